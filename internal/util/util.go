package util

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// GenUUID generates a random UUID string.
func GenUUID() string {
	return uuid.New().String()
}

// GenShortID generates a short, URL-safe identifier.
func GenShortID() string {
	return shortuuid.New()
}
