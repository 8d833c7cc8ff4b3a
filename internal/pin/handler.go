package pin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// DeleteTokenHeader may carry the delete token instead of a parameter.
const DeleteTokenHeader = "X-Delete-Token"

// Handler exposes pin HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a pin HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// createRequest accepts both flat fields and a {"pin": {...}} envelope.
type createRequest struct {
	Pin *Attributes `json:"pin" form:"-"`
	Attributes
}

type deleteRequest struct {
	DeleteToken string `json:"delete_token" form:"delete_token"`
}

// List returns the newest pins.
func (h *Handler) List(c *fiber.Ctx) error {
	pins, err := h.service.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": pins})
}

// Create stores a pin and returns its delete token. The token is only ever
// present in this response.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "malformed request body")
		}
	} else if err := c.QueryParser(&req.Attributes); err != nil {
		return errorJSON(c, http.StatusBadRequest, "malformed query parameters")
	}
	attrs := req.Attributes
	if req.Pin != nil {
		attrs = *req.Pin
	}

	created, err := h.service.Create(c.UserContext(), attrs)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
				"status": "error",
				"error":  verr.Error(),
				"errors": verr.Messages(),
			})
		}
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"pin":          created.Pin,
			"delete_token": created.DeleteToken.Plaintext,
		},
	})
}

// Delete removes a pin when the caller presents its delete token.
func (h *Handler) Delete(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return errorJSON(c, http.StatusNotFound, "Pin not found")
	}

	err = h.service.Delete(c.UserContext(), id, presentedToken(c))
	switch {
	case errors.Is(err, ErrNotFound):
		return errorJSON(c, http.StatusNotFound, "Pin not found")
	case errors.Is(err, ErrUnauthorized):
		return errorJSON(c, http.StatusUnauthorized, "Invalid delete token")
	case err != nil:
		return err
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":  "success",
		"message": "Pin deleted successfully",
	})
}

func presentedToken(c *fiber.Ctx) string {
	if t := c.Query("delete_token"); t != "" {
		return t
	}
	if t := c.Get(DeleteTokenHeader); t != "" {
		return t
	}
	var req deleteRequest
	if len(c.Body()) > 0 {
		_ = c.BodyParser(&req)
	}
	return req.DeleteToken
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"status": "error", "error": msg})
}
