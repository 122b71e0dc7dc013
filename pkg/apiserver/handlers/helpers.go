package handlers

import (
	"strconv"
)

const maxListLimit = 500

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	if parsed > maxListLimit {
		return maxListLimit
	}
	return parsed
}
