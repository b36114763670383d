package pickup

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestGeneratePickupQRProducesPNG(t *testing.T) {
	g := NewQRGenerator("test-secret")

	img, err := g.GeneratePickupQR("o1", "AB12CD34")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, pngMagic), "expected a PNG image")
}

func TestVerifyAcceptsOwnSignature(t *testing.T) {
	g := NewQRGenerator("test-secret")

	sig := g.sign("o1", "AB12CD34")
	assert.True(t, g.Verify("o1", "AB12CD34", sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	g := NewQRGenerator("test-secret")
	sig := g.sign("o1", "AB12CD34")

	assert.False(t, g.Verify("o2", "AB12CD34", sig), "signature is bound to the order")
	assert.False(t, g.Verify("o1", "ZZ99ZZ99", sig), "signature is bound to the code")
	assert.False(t, g.Verify("o1", "AB12CD34", "forged"))
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a := NewQRGenerator("secret-a")
	b := NewQRGenerator("secret-b")

	sig := a.sign("o1", "AB12CD34")
	assert.False(t, b.Verify("o1", "AB12CD34", sig))
}

func TestSignDomainSeparation(t *testing.T) {
	g := NewQRGenerator("test-secret")

	// The separator byte keeps (order, code) pairs from colliding when the
	// boundary between them shifts.
	assert.NotEqual(t, g.sign("o1A", "B12CD34"), g.sign("o1", "AB12CD34"))
}
