// handlers/challenge_routes.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cdermott7/onlygrass/middleware"
	"github.com/cdermott7/onlygrass/models"
	"github.com/cdermott7/onlygrass/services"
	"github.com/cdermott7/onlygrass/utils"

	"github.com/gofiber/fiber/v2"
)

const maxProofPhotoBytes = 10 * 1024 * 1024 // 10MB

// writeCtx detaches a mutation from the request context: the caller
// navigating away must not cancel a half-applied scoring write.
func writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func SetupChallengeRoutes(app *fiber.App, engine *services.ChallengeService, userService *services.UserService, authClient *services.AuthServiceClient) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/user/challenges", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			Patch models.GrassPatch `json:"patch"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.Patch.Name == "" || (req.Patch.Latitude == 0 && req.Patch.Longitude == 0) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "patch name and coordinates are required",
			})
		}

		ctx, cancel := writeCtx()
		defer cancel()
		ch, err := engine.CreateChallenge(ctx, userID, req.Patch)
		if err != nil {
			if errors.Is(err, services.ErrChallengeConflict) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error": "challenge already active",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to create challenge",
				"cause": err.Error(),
			})
		}
		return c.Status(fiber.StatusCreated).JSON(ch)
	})

	secured.Get("/user/challenges/active", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		ctx, cancel := writeCtx() // the lazy sweep may write
		defer cancel()
		ch, err := engine.GetActiveChallenge(ctx, userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to read active challenge",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"challenge": ch})
	})

	secured.Post("/user/challenges/:id/proof", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		challengeID := c.Params("id")

		photo, err := c.FormFile("photo")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "photo file is required",
			})
		}
		if photo.Size > maxProofPhotoBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "photo exceeds 10MB limit",
			})
		}

		f, err := photo.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to read photo",
				"cause": err.Error(),
			})
		}
		image, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "failed to read photo",
				"cause": err.Error(),
			})
		}

		ext := filepath.Ext(photo.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := fmt.Sprintf("proofs/%s/%s%s", userID, challengeID, ext)
		imageURL, err := utils.StoreProofPhoto(photo, key)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to store proof photo",
				"cause": err.Error(),
			})
		}

		ctx, cancel := writeCtx()
		defer cancel()
		outcome, err := engine.SubmitProof(ctx, userID, challengeID, image, imageURL)
		if err != nil {
			return challengeError(c, err)
		}
		return c.JSON(outcome)
	})

	secured.Post("/user/challenges/:id/abandon", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		challengeID := c.Params("id")

		ctx, cancel := writeCtx()
		defer cancel()
		outcome, err := engine.FailChallenge(ctx, userID, challengeID)
		if err != nil {
			return challengeError(c, err)
		}
		return c.JSON(outcome)
	})

	secured.Get("/user/challenges", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))

		history, err := userService.GetChallengeHistory(c.Context(), userID, page, size)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to get challenge history",
				"cause": err.Error(),
			})
		}
		return c.JSON(history)
	})

	// EventSource cannot set headers, so the countdown stream authenticates
	// via query token instead of the gateway context.
	app.Get("/user/challenges/countdown", middleware.SSEAuthMiddleware(authClient), engine.StreamCountdownSSE)
}

// challengeError maps engine errors onto HTTP statuses. A FAILED outcome is
// a normal response, never routed through here; this is for actual errors.
func challengeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "challenge not found",
		})
	case errors.Is(err, services.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "challenge is not active",
		})
	case services.IsValidationFault(err):
		// retryable: the challenge is still ACTIVE
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":     "photo validation is temporarily unavailable",
			"retryable": true,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "challenge operation failed",
			"cause": err.Error(),
		})
	}
}
