package main

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/supportchat/internal/logger"
)

// randomSecret is used when VISITOR_SECRET is unset; visitor tokens then die with the process.
func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	logger.Warnf("VISITOR_SECRET not set, using a random per-process secret")
	return hex.EncodeToString(b)
}
