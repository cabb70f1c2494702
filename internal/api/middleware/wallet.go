// wallet.go — сессия кошелька из заголовков запроса.
//
// Кошелёк подписывает транзакции на стороне клиента; сервер получает
// только адрес и VKH. Если включена JWT-аутентификация и в токене есть
// claim wallet_vkh, VKH из заголовка обязан с ним совпадать.
package middleware

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/pharmatrace/internal/api/errors"
	"github.com/bigkaa/pharmatrace/internal/service"
)

// Заголовки сессии кошелька.
const (
	HeaderWalletAddress = "X-Wallet-Address"
	HeaderWalletVkh     = "X-Wallet-Vkh"
)

// ContextKeySession — service.Session в контексте запроса.
const ContextKeySession contextKey = "wallet_session"

// WalletSession извлекает сессию кошелька из заголовков. Отсутствие
// заголовков не ошибка: действия, требующие подписи, сами проверяют сессию.
func WalletSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := service.Session{
				WalletAddress: strings.TrimSpace(r.Header.Get(HeaderWalletAddress)),
				WalletVkh:     strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderWalletVkh))),
			}

			if claims := ClaimsFromContext(r.Context()); claims != nil && claims.WalletVkh != "" &&
				session.WalletVkh != "" && !strings.EqualFold(claims.WalletVkh, session.WalletVkh) {
				apierrors.Forbidden(w, "VKH кошелька не совпадает с токеном")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext возвращает сессию кошелька. Без middleware — пустая сессия.
func SessionFromContext(ctx context.Context) service.Session {
	s, _ := ctx.Value(ContextKeySession).(service.Session)
	return s
}
