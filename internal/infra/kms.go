package infra

import (
	"context"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"token-mint-service/config"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func crc32c(data []byte) int64 {
	return int64(crc32.Checksum(data, crc32cTable))
}

// KMSClient はCloud KMSによる封緘/開封を提供する。
// ミント秘密鍵は封緘された形でのみDBに置かれ、平文はプロセスメモリから出ない。
// リクエスト/レスポンスはCRC32Cで整合性検証する。
type KMSClient struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSClient は新しいKMSClientを生成する。
func NewKMSClient(ctx context.Context, cfg *config.Config) (*KMSClient, error) {
	if cfg.KMSKeyName == "" {
		return nil, fmt.Errorf("KMS_KEY_NAME is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSClient{
		client:  client,
		keyName: cfg.KMSKeyName,
	}, nil
}

// Encrypt は平文を封緘する。
func (c *KMSClient) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	resp, err := c.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:            c.keyName,
		Plaintext:       plaintext,
		PlaintextCrc32C: wrapperspb.Int64(crc32c(plaintext)),
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if !resp.VerifiedPlaintextCrc32C {
		return nil, fmt.Errorf("encrypting: request corrupted in transit")
	}
	if crc32c(resp.Ciphertext) != resp.CiphertextCrc32C.GetValue() {
		return nil, fmt.Errorf("encrypting: response corrupted in transit")
	}
	return resp.Ciphertext, nil
}

// Decrypt は封緘された暗号文を開封する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := c.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:             c.keyName,
		Ciphertext:       ciphertext,
		CiphertextCrc32C: wrapperspb.Int64(crc32c(ciphertext)),
	})
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	if crc32c(resp.Plaintext) != resp.PlaintextCrc32C.GetValue() {
		return nil, fmt.Errorf("decrypting: response corrupted in transit")
	}
	return resp.Plaintext, nil
}

// Close は下位クライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}
