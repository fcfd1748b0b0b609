package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/loftchat/loftchat-server/internal/media"
)

// UploadResponse carries the public URL of a stored image.
type UploadResponse struct {
	URL string `json:"url"`
}

// uploadHandler accepts a multipart image upload and returns its /media URL.
// The URL is then referenced from send_message / send_dm payloads.
func uploadHandler(store *media.Store, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = stdhttp.MaxBytesReader(c.Writer, c.Request.Body, media.MaxUploadSize)

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "missing file field"})
			return
		}
		defer file.Close()

		url, err := store.Save(file, header.Filename)
		if err != nil {
			if errors.Is(err, media.ErrUnsupportedType) {
				c.JSON(stdhttp.StatusUnsupportedMediaType, ErrorResponse{Error: "unsupported file type"})
				return
			}
			logger.Error().Err(err).Msg("store upload failed")
			c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "upload failed"})
			return
		}

		c.JSON(stdhttp.StatusOK, UploadResponse{URL: url})
	}
}
