package naming

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestRoman(t *testing.T) {
	cases := map[int]string{
		1: "I", 4: "IV", 9: "IX", 14: "XIV", 40: "XL", 99: "XCIX", 2024: "MMXXIV", 0: "",
	}
	for n, want := range cases {
		assert.Equal(t, want, Roman(n), "Roman(%d)", n)
	}
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "IV・Gaming", FullName(4, "Gaming"))
	assert.Equal(t, "Gaming", FullName(0, " Gaming "))

	long := FullName(38, strings.Repeat("x", 200))
	assert.Equal(t, 100, utf8.RuneCountInString(long))
	assert.True(t, strings.HasPrefix(long, "XXXVIII・"))
}

func TestMaxBaseLength(t *testing.T) {
	assert.Equal(t, 100, MaxBaseLength(0))
	assert.Equal(t, 98, MaxBaseLength(1))
	assert.Equal(t, 91, MaxBaseLength(38))

	fits := strings.Repeat("y", MaxBaseLength(4))
	assert.Equal(t, "IV・"+fits, FullName(4, fits))
}

func TestNextPosition(t *testing.T) {
	assert.Equal(t, 1, NextPosition(nil))
	assert.Equal(t, 3, NextPosition([]int{2, 1}))
	assert.Equal(t, 2, NextPosition([]int{1, 3, 4}))
	assert.Equal(t, 1, NextPosition([]int{2, 3}))
	assert.Equal(t, 2, NextPosition([]int{1, 1, 0}))
}

func TestFromTemplate(t *testing.T) {
	assert.Equal(t, "Ana's room", FromTemplate("{owner}'s room", "Ana"))
}
