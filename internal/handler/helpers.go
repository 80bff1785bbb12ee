package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/neetrino/ilona-chat/internal/service"
	"github.com/neetrino/ilona-chat/internal/utils"
)

func parseParamUint(c *fiber.Ctx, key string) (uint, error) {
	value := strings.TrimSpace(c.Params(key))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(parsed), nil
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return strings.ToLower(strings.TrimSpace(role))
		}
	}
	return ""
}

// sendServiceError maps the service error taxonomy onto HTTP statuses.
// Forbidden is deliberately kept distinct from NotFound.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var validationErrs validator.ValidationErrors

	switch {
	case service.NotFoundError(err):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case service.ForbiddenError(err):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case service.BadRequestError(err), errors.As(err, &validationErrs):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		logger.Error().Err(err).Str("route", c.Path()).Msg("chat request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
