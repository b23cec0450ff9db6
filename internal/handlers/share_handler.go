package handlers

import (
	"errors"
	"log"
	"soulchart-share-service/internal/models"
	"soulchart-share-service/internal/service"

	"github.com/gofiber/fiber/v3"
)

type ShareHandler struct {
	permissionService *service.PermissionService
}

func NewShareHandler(permissionService *service.PermissionService) *ShareHandler {
	return &ShareHandler{
		permissionService: permissionService,
	}
}

// RegisterRoutes mounts the share endpoints. Identity arrives as X-User-ID
// from the upstream gateway; the optional rate limiter guards both the
// issuing and verification paths.
func (h *ShareHandler) RegisterRoutes(app *fiber.App, rateLimit fiber.Handler) {
	shareGroup := app.Group("/protected/share/permissions")
	if rateLimit != nil {
		shareGroup.Use(rateLimit)
	}

	shareGroup.Post("/", h.CreatePermission)
	shareGroup.Post("/verify", h.VerifyPermission)
	shareGroup.Get("/", h.ListMyPermissions)
}

// CreatePermission mints a share grant for the caller's own chart.
func (h *ShareHandler) CreatePermission(c fiber.Ctx) error {
	userID := c.Get("X-User-ID")
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not authenticated",
		})
	}

	var req models.CreatePermissionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.OwnerID == "" || req.OwnerName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "ownerId and ownerName are required",
		})
	}

	// A caller may only share their own chart.
	if req.OwnerID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Cannot share another user's chart",
		})
	}

	permission, err := h.permissionService.CreatePermission(c.Context(), req.OwnerID, req.OwnerName)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "ownerId and ownerName are required",
			})
		}
		log.Printf("Failed to create share permission for owner %s: %v", req.OwnerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create share permission",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(models.CreatePermissionResponse{
		PermissionID: permission.PermissionID,
		ExpiresAt:    permission.ExpiresAt,
		UsageLimit:   permission.UsageLimit,
	})
}

// VerifyPermission validates a share token and, when the grant is still
// good, releases the owner's chart along with the remaining view budget.
func (h *ShareHandler) VerifyPermission(c fiber.Ctx) error {
	var req models.VerifyPermissionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	viewerID := c.Get("X-User-ID")
	if viewerID == "" {
		viewerID = req.ViewerID
	}

	if req.PermissionID == "" || viewerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "permissionId and viewerId are required",
		})
	}

	result, err := h.permissionService.VerifyAndFetch(c.Context(), req.PermissionID, viewerID)
	if err != nil {
		return h.rejectVerification(c, req.PermissionID, err)
	}

	return c.Status(fiber.StatusOK).JSON(models.VerifyPermissionResponse{
		Chart:          result.Chart,
		RemainingViews: result.Permission.RemainingViews(),
		ExpiresAt:      result.Permission.ExpiresAt,
	})
}

// ListMyPermissions returns the caller's issued grants so the app can show
// which share links are still live.
func (h *ShareHandler) ListMyPermissions(c fiber.Ctx) error {
	userID := c.Get("X-User-ID")
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not authenticated",
		})
	}

	permissions, err := h.permissionService.ListOwnerPermissions(c.Context(), userID)
	if err != nil {
		log.Printf("Failed to list share permissions for owner %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list share permissions",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"permissions": permissions,
			"totalCount":  len(permissions),
		},
	})
}

// rejectVerification maps the verifier's rejection taxonomy onto status
// codes and caller-displayable messages.
func (h *ShareHandler) rejectVerification(c fiber.Ctx, permissionID string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "permissionId and viewerId are required",
		})
	case errors.Is(err, service.ErrPermissionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Share permission not found",
		})
	case errors.Is(err, service.ErrPermissionExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "This share link has expired",
		})
	case errors.Is(err, service.ErrUsageExceeded):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "This share link has reached its view limit",
		})
	case errors.Is(err, service.ErrPermissionRevoked):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "This share link has been revoked",
		})
	case errors.Is(err, service.ErrChartNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No soul chart found for this owner",
		})
	default:
		log.Printf("Failed to verify share permission %s: %v", permissionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify share permission",
		})
	}
}
