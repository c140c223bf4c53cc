package domain

// CreationParams はトークン作成のパラメータを表す。
// 手数料計算やベスティングの意味論には関与せず、命令ペイロードへそのまま運ばれる。
type CreationParams struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	Decimals    uint8  `json:"decimals,omitempty"`
	FeeTierBPS  uint32 `json:"fee_tier_bps,omitempty"`
	InitialBuy  uint64 `json:"initial_buy,omitempty"`
	Creator     string `json:"creator"` // クライアント署名者のBase58公開鍵
}
