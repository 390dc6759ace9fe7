package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/windsync/wind/internal/auth"
	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/provider/gdrive"
	"github.com/windsync/wind/internal/provider/local"
	"github.com/windsync/wind/internal/provider/onedrive"
	"github.com/windsync/wind/internal/provider/photos"
	"github.com/windsync/wind/internal/provider/s3"
)

// endpointKind names the storage service behind an endpoint argument.
type endpointKind string

const (
	kindLocal    endpointKind = "local"
	kindOneDrive endpointKind = "onedrive"
	kindGDrive   endpointKind = "gdrive"
	kindS3       endpointKind = "s3"
	kindPhotos   endpointKind = "photos"
)

// endpoint is a parsed SRC or DST argument.
//
//	onedrive:/Pictures         OneDrive path
//	gdrive:<folder-id>/sub     Google Drive folder (id "root" when empty)
//	s3://bucket/prefix         S3 bucket with optional key prefix
//	local:/srv/photos, ./dir   local directory
//	photos:                    Google Photos library
type endpoint struct {
	Raw  string
	Kind endpointKind
	// Root is the path inside the provider that the run starts from.
	Root string

	Dir      string // local
	FolderID string // gdrive
	Bucket   string // s3
	Prefix   string // s3
}

func parseEndpoint(arg string) (endpoint, error) {
	ep := endpoint{Raw: arg, Root: "/"}

	switch {
	case arg == "":
		return ep, fmt.Errorf("empty endpoint")

	case strings.HasPrefix(arg, "s3://"):
		rest := strings.TrimPrefix(arg, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")

		if bucket == "" {
			return ep, fmt.Errorf("endpoint %q: missing bucket name", arg)
		}

		ep.Kind = kindS3
		ep.Bucket = bucket
		ep.Prefix = strings.Trim(prefix, "/")

	case strings.HasPrefix(arg, "onedrive:"):
		ep.Kind = kindOneDrive
		ep.Root = provider.CleanPath(strings.TrimPrefix(arg, "onedrive:"))

	case strings.HasPrefix(arg, "gdrive:"):
		rest := strings.TrimPrefix(strings.TrimPrefix(arg, "gdrive:"), "/")
		id, sub, _ := strings.Cut(rest, "/")

		if id == "" {
			id = "root"
		}

		ep.Kind = kindGDrive
		ep.FolderID = id
		ep.Root = provider.CleanPath(sub)

	case strings.HasPrefix(arg, "photos:"):
		if rest := strings.TrimPrefix(arg, "photos:"); strings.Trim(rest, "/") != "" {
			return ep, fmt.Errorf("endpoint %q: the photo library has no folders", arg)
		}

		ep.Kind = kindPhotos

	default:
		dir := strings.TrimPrefix(arg, "local:")
		if dir == "" {
			return ep, fmt.Errorf("endpoint %q: missing directory", arg)
		}

		abs, err := filepath.Abs(dir)
		if err != nil {
			return ep, fmt.Errorf("endpoint %q: %w", arg, err)
		}

		ep.Kind = kindLocal
		ep.Dir = abs
	}

	return ep, nil
}

// openProvider builds the provider for ep. OAuth clients are bound to ctx
// for token refreshes.
func (cc *CLIContext) openProvider(ctx context.Context, ep endpoint) (provider.Provider, error) {
	logger := cc.Logger.With(slog.String("endpoint", ep.Raw))

	switch ep.Kind {
	case kindLocal:
		return local.NewOS(ep.Dir, logger), nil

	case kindS3:
		p, err := s3.NewFromConfig(ctx, s3.Config{
			Region:    cc.Cfg.S3.Region,
			Profile:   cc.Cfg.S3.Profile,
			Endpoint:  cc.Cfg.S3.Endpoint,
			PathStyle: cc.Cfg.S3.PathStyle,
		}, ep.Bucket, ep.Prefix, logger)
		if err != nil {
			return nil, err
		}

		return p, nil

	case kindOneDrive:
		client, err := auth.Client(ctx, auth.OneDrive,
			auth.Credentials{ClientID: cc.Cfg.OneDrive.ClientID},
			cc.Cfg.TokenPath(cc.Cfg.OneDrive.TokenFile, string(auth.OneDrive)), logger)
		if err != nil {
			return nil, err
		}

		return onedrive.New(client, logger), nil

	case kindGDrive:
		client, err := auth.Client(ctx, auth.GoogleDrive,
			auth.Credentials{ClientID: cc.Cfg.GDrive.ClientID, ClientSecret: cc.Cfg.GDrive.ClientSecret},
			cc.Cfg.TokenPath(cc.Cfg.GDrive.TokenFile, string(auth.GoogleDrive)), logger)
		if err != nil {
			return nil, err
		}

		return gdrive.New(client, ep.FolderID, logger), nil

	case kindPhotos:
		p, err := cc.openPhotos(ctx)
		if err != nil {
			return nil, err
		}

		return p, nil

	default:
		return nil, fmt.Errorf("unknown endpoint kind %q", ep.Kind)
	}
}

func (cc *CLIContext) photosClient(ctx context.Context) (*http.Client, error) {
	p := cc.Cfg.Photos

	return auth.Client(ctx, auth.GooglePhotos,
		auth.Credentials{ClientID: p.ClientID, ClientSecret: p.ClientSecret},
		cc.Cfg.TokenPath(p.TokenFile, string(auth.GooglePhotos)), cc.Logger)
}

func (cc *CLIContext) openPhotos(ctx context.Context) (*photos.Provider, error) {
	client, err := cc.photosClient(ctx)
	if err != nil {
		return nil, err
	}

	return photos.New(client, cc.Logger.With(slog.String("endpoint", "photos:"))), nil
}
