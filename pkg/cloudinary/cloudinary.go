package cloudinary

import (
	"context"
	"io"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// Client wraps Cloudinary uploads for payment documents. Proof-of-payment
// files are bank transfer receipts: images or PDF scans.
type Client interface {
	UploadProofOfPayment(ctx context.Context, file io.Reader, transactionID string) (url string, err error)
}

const proofFolder = "schoolpay/proof-of-payment"

type clientImpl struct {
	uploader *uploader.API
}

// UploadProofOfPayment stores a receipt under a deterministic public ID so
// re-uploads for the same transaction replace the previous file.
func (c *clientImpl) UploadProofOfPayment(ctx context.Context, file io.Reader, transactionID string) (string, error) {
	overwrite := true
	result, err := c.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:    proofFolder,
		PublicID:  transactionID,
		Overwrite: &overwrite,
	})
	if err != nil {
		return "", err
	}
	return result.SecureURL, nil
}

// NewClientFromParams builds a Client from Cloudinary cloud name, API key, and secret.
func NewClientFromParams(cloudName, apiKey, apiSecret string) (Client, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &clientImpl{uploader: up}, nil
}
