package domain

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	messageVersion = 1

	// BlockhashSize は直近ブロックハッシュのバイト長。
	BlockhashSize = 32
	// SignatureSize はEd25519署名のバイト長。
	SignatureSize = ed25519.SignatureSize
	// PublicKeySize はEd25519公開鍵のバイト長。
	PublicKeySize = ed25519.PublicKeySize
)

// Payload は署名対象のトランザクションペイロードを表す。
// バッチ内の順序は構築順を保持し、署名・送信もこの順序で行う。
type Payload struct {
	Name    string // 論理名（create_token, config, pool_init, initial_buy）
	Message []byte // シリアライズ済みメッセージ（署名対象バイト列）
}

// TxMessage はトランザクションメッセージの内容を表す。
// 署名者は手数料支払者（クライアント）、ミント（サーバー）の順で並ぶ。
type TxMessage struct {
	Blockhash    []byte
	SignerKeys   [][]byte
	Instructions []byte
}

// Marshal はメッセージをワイヤ形式にシリアライズする。
// 形式: [version:1][blockhash:32][signers:1][pubkey:32 × signers][instrLen:4 BE][instructions]
func (m *TxMessage) Marshal() ([]byte, error) {
	if len(m.Blockhash) != BlockhashSize {
		return nil, fmt.Errorf("%w: blockhash must be %d bytes", ErrMalformedPayload, BlockhashSize)
	}
	if len(m.SignerKeys) == 0 || len(m.SignerKeys) > 255 {
		return nil, fmt.Errorf("%w: signer count out of range", ErrMalformedPayload)
	}
	buf := &bytes.Buffer{}
	buf.WriteByte(messageVersion)
	buf.Write(m.Blockhash)
	buf.WriteByte(byte(len(m.SignerKeys)))
	for _, key := range m.SignerKeys {
		if len(key) != PublicKeySize {
			return nil, fmt.Errorf("%w: signer key must be %d bytes", ErrMalformedPayload, PublicKeySize)
		}
		buf.Write(key)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(m.Instructions)))
	buf.Write(lenBuf[:])
	buf.Write(m.Instructions)
	return buf.Bytes(), nil
}

// UnmarshalTxMessage はワイヤ形式のメッセージを復元する。
func UnmarshalTxMessage(data []byte) (*TxMessage, error) {
	if len(data) < 1+BlockhashSize+1+4 {
		return nil, fmt.Errorf("%w: message too short", ErrMalformedPayload)
	}
	if data[0] != messageVersion {
		return nil, fmt.Errorf("%w: unsupported message version %d", ErrMalformedPayload, data[0])
	}
	offset := 1
	blockhash := append([]byte(nil), data[offset:offset+BlockhashSize]...)
	offset += BlockhashSize

	signers := int(data[offset])
	offset++
	if signers == 0 {
		return nil, fmt.Errorf("%w: no signers", ErrMalformedPayload)
	}
	if len(data) < offset+signers*PublicKeySize+4 {
		return nil, fmt.Errorf("%w: truncated signer keys", ErrMalformedPayload)
	}
	keys := make([][]byte, signers)
	for i := range keys {
		keys[i] = append([]byte(nil), data[offset:offset+PublicKeySize]...)
		offset += PublicKeySize
	}

	instrLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data) != offset+instrLen {
		return nil, fmt.Errorf("%w: instruction length mismatch", ErrMalformedPayload)
	}
	return &TxMessage{
		Blockhash:    blockhash,
		SignerKeys:   keys,
		Instructions: append([]byte(nil), data[offset:]...),
	}, nil
}

// Transaction はメッセージと署名スロットの組を表す。
// 署名iはSignerKeys[i]によるメッセージ全体へのEd25519署名。未署名スロットはゼロ埋め。
type Transaction struct {
	Signatures [][]byte
	Message    []byte
}

// Marshal はトランザクションをワイヤ形式にシリアライズする。
// 形式: [sigCount:1][signature:64 × sigCount][message]
func (t *Transaction) Marshal() ([]byte, error) {
	if len(t.Signatures) == 0 || len(t.Signatures) > 255 {
		return nil, fmt.Errorf("%w: signature count out of range", ErrMalformedPayload)
	}
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(len(t.Signatures)))
	for _, sig := range t.Signatures {
		if len(sig) == 0 {
			buf.Write(make([]byte, SignatureSize))
			continue
		}
		if len(sig) != SignatureSize {
			return nil, fmt.Errorf("%w: signature must be %d bytes", ErrMalformedPayload, SignatureSize)
		}
		buf.Write(sig)
	}
	buf.Write(t.Message)
	return buf.Bytes(), nil
}

// UnmarshalTransaction はワイヤ形式のトランザクションを復元する。
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty transaction", ErrMalformedPayload)
	}
	sigCount := int(data[0])
	if sigCount == 0 {
		return nil, fmt.Errorf("%w: no signature slots", ErrMalformedPayload)
	}
	offset := 1
	if len(data) < offset+sigCount*SignatureSize {
		return nil, fmt.Errorf("%w: truncated signatures", ErrMalformedPayload)
	}
	sigs := make([][]byte, sigCount)
	for i := range sigs {
		sigs[i] = append([]byte(nil), data[offset:offset+SignatureSize]...)
		offset += SignatureSize
	}
	return &Transaction{
		Signatures: sigs,
		Message:    append([]byte(nil), data[offset:]...),
	}, nil
}

// SignatureFilled は指定スロットに署名が入っているかどうかを返す。
func (t *Transaction) SignatureFilled(index int) bool {
	if index < 0 || index >= len(t.Signatures) {
		return false
	}
	for _, b := range t.Signatures[index] {
		if b != 0 {
			return true
		}
	}
	return false
}

// TxSignature はトランザクションの識別子（先頭署名のBase58表現）を返す。
func (t *Transaction) TxSignature() string {
	if len(t.Signatures) == 0 {
		return ""
	}
	return base58.Encode(t.Signatures[0])
}

// DeriveConfigAddress は確定した設定メッセージから設定オブジェクトのアドレスを導出する。
func DeriveConfigAddress(configMessage []byte) string {
	sum := sha256.Sum256(configMessage)
	return base58.Encode(sum[:])
}
