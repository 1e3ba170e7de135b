package handler

import (
	"github.com/gofiber/fiber/v2"

	"freecanvas/internal/service"
)

// UploadImage stores an image (multipart/form-data, field name: file).
//
//	@Summary	Upload an image
//	@Tags		images
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file	formData	file	true	"image file"
//	@Success	201		{object}	service.ImageUpload
//	@Failure	400		{object}	errorPayload
//	@Failure	415		{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/images [post]
func UploadImage(svc service.CanvasService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		res, err := svc.UploadImage(c.UserContext(), f, fh.Filename, ct, fh.Size)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

// GetImage redirects to a short-lived download URL for a stored image.
//
//	@Summary	Download an image
//	@Tags		images
//	@Param		ref	path	string	true	"object key below images/"
//	@Success	302
//	@Failure	404	{object}	errorPayload
//	@Security	BearerAuth
//	@Router		/images/{ref} [get]
func GetImage(svc service.CanvasService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		url, err := svc.ImageURL(c.UserContext(), service.ImagePrefix+c.Params("*"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Redirect(url, fiber.StatusFound)
	}
}
