package server

import "time"

// supportedModels lists the configured model names in /v1/models shape.
func supportedModels(names []string, now time.Time) []modelEntry {
	created := now.Unix()
	out := make([]modelEntry, 0, len(names))
	for _, name := range names {
		out = append(out, modelEntry{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "google",
		})
	}
	return out
}
