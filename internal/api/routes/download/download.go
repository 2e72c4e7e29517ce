// Package download binds the token-authorized artifact download endpoint.
package download

import (
	"context"
	"net/http"

	"github.com/NIRALUser/clusterpost/internal/api/errs"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

// Downloader opens the artifact a download token grants.
type Downloader interface {
	Download(ctx context.Context, token string) (*jobs.AttachmentContent, error)
}

// Config contains the dependencies needed by the download handler.
type Config struct {
	Log        *logger.Logger
	Downloader Downloader
}

// Routes binds the download endpoint. The token in the path is the only
// credential.
func Routes(app *web.App, cfg Config) {
	app.HandlerFunc(http.MethodGet, "v1", "/download/{token}", download(cfg))
}

func download(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		content, err := cfg.Downloader.Download(ctx, web.Param(r, "token"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return web.Stream{ContentType: content.ContentType, Length: content.Length, Body: content.Body}
	}
}
