package sar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateIsInvolution(t *testing.T) {
	t.Parallel()

	orig := bytes.Repeat([]byte("package payload "), 64)
	data := bytes.Clone(orig)
	key := ObfuscationKey("textures/hero.tex0")

	Obfuscate(key, data, 0)
	assert.NotEqual(t, orig, data)
	Obfuscate(key, data, 0)
	assert.Equal(t, orig, data)
}

func TestObfuscateInPieces(t *testing.T) {
	t.Parallel()

	orig := bytes.Repeat([]byte{0xA5, 0x5A, 0x00, 0xFF, 0x13}, 40)
	key := ObfuscationKey("scripts/main.lua")

	whole := bytes.Clone(orig)
	Obfuscate(key, whole, 0)

	pieces := bytes.Clone(orig)
	Obfuscate(key, pieces[:7], 0)
	Obfuscate(key, pieces[7:101], 7)
	Obfuscate(key, pieces[101:], 101)
	assert.Equal(t, whole, pieces)
}

func TestObfuscationKeyIgnoresCase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ObfuscationKey("Textures/Hero.TEX0"), ObfuscationKey("textures/hero.tex0"))
	assert.NotEqual(t, ObfuscationKey("a.json"), ObfuscationKey("b.json"))
	assert.Equal(t, obfuscationSeed, ObfuscationKey(""))
}
