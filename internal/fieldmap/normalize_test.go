package fieldmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Title", "title"},
		{"surrounding space", "  Product Images  ", "product images"},
		{"underscores and hyphens", "bullet__point--1", "bullet point 1"},
		{"nbsp", "Bullet Point", "bullet point"},
		{"punctuation stripped", "Description (EN)*", "description en"},
		{"dots join words", "prod.images", "prodimages"},
		{"whitespace collapsed", "a \t\n  b", "a b"},
		{"cyrillic", "Заголовок товара", "заголовок товара"},
		{"cyrillic upper with symbols", "ОПИСАНИЕ: №1", "описание 1"},
		{"greek", "Τίτλος", "τίτλος"},
		{"cjk", "商品 标题", "商品 标题"},
		{"decomposed accent", "Café", "café"},
		{"devanagari drops vowel signs", "शीर्षक", "शरषक"},
		{"mark after punctuation", "a.\u0301", "a"},
		{"decomposed accent composes", "Cafe\u0301", "café"},
		{"jamo joined after punctuation", "\u1100.\u1161", "\uac00"},
		{"only punctuation", "!!!", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Product Images", "  __Title--  ", "Bullet Point 1", "Заголовок товара",
		"İSTANBUL", "Café Noir", "a-_-b", "́leading mark", "शीर्षक", "x²", "ÆØÅ",
		"a.\u0301", "e!\u0300x", "कि", "\u1100.\u1161",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}
