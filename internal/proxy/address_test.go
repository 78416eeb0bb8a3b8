package proxy

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"airdrop_manager/internal/errs"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		ok   bool
		host string
		port int
	}{
		{"203.0.113.5:8080", true, "203.0.113.5", 8080},
		{" 10.0.0.1:1 ", true, "10.0.0.1", 1},
		{"255.255.255.255:65535", true, "255.255.255.255", 65535},
		{"999.999.999.999:70000", false, "", 0},
		{"256.0.0.1:80", false, "", 0},
		{"1.2.3.4:0", false, "", 0},
		{"1.2.3.4:65536", false, "", 0},
		{"1.2.3:80", false, "", 0},
		{"example.com:80", false, "", 0},
		{"1.2.3.4", false, "", 0},
		{"http://1.2.3.4:80", false, "", 0},
		{"", false, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			host, port, err := ParseAddress(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, errs.ErrInvalidFormat)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.host, host)
			assert.Equal(t, tc.port, port)
		})
	}
}

func TestParseAddressProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	properties.Property("valid octets and ports always parse", prop.ForAll(
		func(a, b, c, d uint8, port uint16) bool {
			if port == 0 {
				port = 1
			}
			addr := fmt.Sprintf("%d.%d.%d.%d:%d", a, b, c, d, port)
			_, p, err := ParseAddress(addr)
			return err == nil && p == int(port)
		},
		gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.UInt16(),
	))

	properties.Property("out of range octet is rejected", prop.ForAll(
		func(octet int) bool {
			_, _, err := ParseAddress(fmt.Sprintf("10.%d.0.1:8080", octet))
			return err != nil
		},
		gen.IntRange(256, 999),
	))

	properties.TestingRun(t)
}
