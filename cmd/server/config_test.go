package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Origins(t *testing.T) {
	req := require.New(t)

	req.Equal([]string{"*"}, Config{AllowedOrigins: "*"}.Origins())
	req.Equal([]string{"https://hr.example.com", "http://localhost:3000"},
		Config{AllowedOrigins: "https://hr.example.com, http://localhost:3000,"}.Origins())
	req.Nil(Config{}.Origins())
}
