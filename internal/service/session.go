package service

import "fmt"

// Session — подключённый кошелёк вызывающего. Передаётся явно в каждое
// действие, требующее подписи; у каждого запроса своя сессия.
type Session struct {
	// WalletAddress — bech32-адрес кошелька (отправитель и сдача)
	WalletAddress string
	// WalletVkh — хеш ключа верификации кошелька (hex)
	WalletVkh string
}

// Validate проверяет, что кошелёк подключён.
func (s Session) Validate() error {
	if s.WalletAddress == "" || s.WalletVkh == "" {
		return fmt.Errorf("%w: сначала подключите кошелёк", ErrValidation)
	}
	return nil
}
