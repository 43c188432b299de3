package sqlite

import (
	"encoding/json"
	"strings"
)

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(n int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

func marshalParticipants(participants []string) (string, error) {
	if participants == nil {
		participants = []string{}
	}
	b, err := json.Marshal(participants)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalParticipants(raw string) ([]string, error) {
	participants := []string{}
	if raw == "" {
		return participants, nil
	}
	if err := json.Unmarshal([]byte(raw), &participants); err != nil {
		return nil, err
	}
	return participants, nil
}
