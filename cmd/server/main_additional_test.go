package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

const testHelpFlag = "--help"

func TestMainRunsHelpCommand(testingT *testing.T) {
	originalArguments := os.Args
	testingT.Cleanup(func() {
		os.Args = originalArguments
	})

	os.Args = []string{commandUseName, testHelpFlag}
	main()
}

func TestParseOrigins(testingT *testing.T) {
	require.Equal(testingT, []string{"http://a.example", "https://b.example"}, parseOrigins(" http://a.example, ,https://b.example "))
	require.Nil(testingT, parseOrigins(" , "))
}
