package handler

import (
	"github.com/gofiber/fiber/v2"

	"freecanvas/internal/service"
)

// Register creates an account and returns a session token for it.
//
//	@Summary	Register a user
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		service.RegisterInput	true	"account"
//	@Success	201		{object}	service.Session
//	@Failure	400		{object}	errorPayload
//	@Failure	409		{object}	errorPayload
//	@Router		/auth/register [post]
func Register(accounts service.AccountService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.RegisterInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body must be a JSON object")
		}
		sess, err := accounts.Register(c.UserContext(), in)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	}
}

// Login exchanges an email and password for a session token.
//
//	@Summary	Log in
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		service.LoginInput	true	"credentials"
//	@Success	200		{object}	service.Session
//	@Failure	400		{object}	errorPayload
//	@Failure	401		{object}	errorPayload
//	@Router		/auth/login [post]
func Login(accounts service.AccountService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in service.LoginInput
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body must be a JSON object")
		}
		sess, err := accounts.Login(c.UserContext(), in)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(sess)
	}
}
