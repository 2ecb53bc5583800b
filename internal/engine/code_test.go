package engine

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codeFormat = regexp.MustCompile(`^\d{3}-\d{3}$`)

func neverInUse(string) (bool, error) { return false, nil }

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode(neverInUse)
		require.NoError(t, err)
		assert.Regexp(t, codeFormat, code)
		for _, group := range strings.Split(code, "-") {
			assert.NotEqual(t, "000", group, "reserved group issued in %s", code)
		}
	}
}

func TestGenerateCode_RetriesOnCollision(t *testing.T) {
	collisions := 0
	code, err := GenerateCode(func(string) (bool, error) {
		if collisions < 3 {
			collisions++
			return true, nil
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, collisions)
	assert.Regexp(t, codeFormat, code)
}

func TestGenerateCode_SpaceExhausted(t *testing.T) {
	probes := 0
	_, err := GenerateCode(func(string) (bool, error) {
		probes++
		return true, nil
	})
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, codeAttempts, probes, "retry count is bounded")
}

func TestGenerateCode_ProbeError(t *testing.T) {
	probeErr := errors.New("store broke")
	_, err := GenerateCode(func(string) (bool, error) {
		return false, probeErr
	})
	assert.ErrorIs(t, err, probeErr)
}

func TestCheckinCodec_RoundTrip(t *testing.T) {
	codec := NewCheckinCodec([]byte("secret"))

	payload := codec.Encode("reg-42", "203-776")
	assert.Equal(t, payload, codec.Encode("reg-42", "203-776"), "encoding is deterministic")

	id, code, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "reg-42", id)
	assert.Equal(t, "203-776", code)
}

func TestCheckinCodec_RejectsForgeries(t *testing.T) {
	codec := NewCheckinCodec([]byte("secret"))
	payload := codec.Encode("reg-42", "203-776")

	cases := map[string]string{
		"empty":            "",
		"no separator":     strings.ReplaceAll(payload, ".", ""),
		"truncated mac":    payload[:len(payload)-2],
		"tampered body":    "x" + payload,
		"not base64":       "%%%.%%%",
		"foreign key mac":  NewCheckinCodec([]byte("other")).Encode("reg-42", "203-776"),
		"swapped sections": payload[strings.IndexByte(payload, '.')+1:] + "." + payload[:strings.IndexByte(payload, '.')],
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := codec.Decode(p)
			assert.ErrorIs(t, err, ErrForged)
		})
	}
}

func TestCheckinCodec_IDsMayContainSeparator(t *testing.T) {
	codec := NewCheckinCodec([]byte("secret"))
	payload := codec.Encode("reg|odd", "111-222")
	id, code, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "reg|odd", id)
	assert.Equal(t, "111-222", code)
}
