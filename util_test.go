package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidNick(t *testing.T) {
	tests := []struct {
		nick string
		want bool
	}{
		{"alice", true},
		{"Alice_99", true},
		{"[bot]", true},
		{"`ghost`", true},
		{"", false},
		{"9alice", false},
		{"has space", false},
		{"bad.nick", false},
		{"waytoolongofanickname", false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, isValidNick(16, test.nick), "isValidNick(%q)", test.nick)
	}
}

func TestIsValidUser(t *testing.T) {
	tests := []struct {
		user string
		want bool
	}{
		{"alice", true},
		{"alice99", true},
		{"", false},
		{"ali ce", false},
		{"ali_ce", false},
		{"waytoolongofausername", false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, isValidUser(16, test.user), "isValidUser(%q)", test.user)
	}
}
