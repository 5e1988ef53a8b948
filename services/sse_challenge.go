package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StreamCountdownSSE streams a 1-second countdown for the user's active
// challenge. Every tick goes through GetActiveChallenge, so the lazy expiry
// sweep keeps running while the challenge screen is mounted; when the
// challenge leaves ACTIVE (submitted, abandoned or expired) the stream emits
// a final event and closes.
func (s *ChallengeService) StreamCountdownSSE(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	reqCtx := c.Context()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				active, err := s.GetActiveChallenge(reqCtx, userID)
				if err != nil {
					log.Printf("SSE countdown query error for user %s: %v", userID, err)
					continue
				}

				if active == nil {
					fmt.Fprint(w, "event: ended\ndata: {\"active\":false}\n\n")
					w.Flush()
					return
				}

				payload, _ := json.Marshal(fiber.Map{
					"challenge_id":      active.ID,
					"patch_name":        active.PatchName,
					"expires_at":        active.ExpiresAt,
					"remaining_seconds": int(active.Remaining(s.Clock.Now()).Seconds()),
				})
				fmt.Fprintf(w, "event: tick\ndata: %s\n\n", payload)

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-reqCtx.Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
