package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"freecanvas/internal/model"
	"freecanvas/internal/service"
)

// ListItems returns the canvas collection oldest first.
// Without a limit the whole collection is returned, which is what sync clients ask for.
//
//	@Summary	List canvas items
//	@Tags		items
//	@Produce	json
//	@Param		limit	query		int	false	"page size, 0 for all"
//	@Param		offset	query		int	false	"items to skip"
//	@Success	200		{object}	service.ItemListResult
//	@Failure	400		{object}	errorPayload
//	@Failure	401		{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/items [get]
func ListItems(svc service.CanvasService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "0"))
		if err != nil || limit < 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil || offset < 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetItem returns a single item.
//
//	@Summary	Get a canvas item
//	@Tags		items
//	@Produce	json
//	@Param		id	path		string	true	"item id"
//	@Success	200	{object}	model.CanvasItem
//	@Failure	404	{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/items/{id} [get]
func GetItem(svc service.CanvasService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		it, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(it)
	}
}

// CreateItem stores a new item under the id chosen by the client.
//
//	@Summary	Create a canvas item
//	@Tags		items
//	@Accept		json
//	@Produce	json
//	@Param		item	body		model.CanvasItem	true	"item"
//	@Success	201		{object}	model.CanvasItem
//	@Failure	400		{object}	errorPayload
//	@Failure	409		{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/items [post]
func CreateItem(svc service.CanvasService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var in model.CanvasItem
		if err := c.BodyParser(&in); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body must be a JSON canvas item")
		}
		it, err := svc.Create(c.UserContext(), in)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(it)
	}
}

// UpdateItem applies a partial patch. Both PATCH and PUT are routed here.
//
//	@Summary	Update a canvas item
//	@Tags		items
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string		true	"item id"
//	@Param		patch	body		model.Patch	true	"fields to change"
//	@Success	200		{object}	model.CanvasItem
//	@Failure	400		{object}	errorPayload
//	@Failure	404		{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/items/{id} [patch]
func UpdateItem(svc service.CanvasService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var p model.Patch
		if err := c.BodyParser(&p); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body must be a JSON patch")
		}
		it, err := svc.Update(c.UserContext(), c.Params("id"), p)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(it)
	}
}

// DeleteItem removes an item.
//
//	@Summary	Delete a canvas item
//	@Tags		items
//	@Param		id	path	string	true	"item id"
//	@Success	204
//	@Failure	404	{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/items/{id} [delete]
func DeleteItem(svc service.CanvasService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Delete(c.UserContext(), c.Params("id")); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
