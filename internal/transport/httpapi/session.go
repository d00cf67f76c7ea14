package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// Заголовки, которые проставляет внешний шлюз авторизации.
const (
	HeaderUserID        = "X-User-Id"
	HeaderUserPhone     = "X-User-Phone"
	HeaderInstitutionID = "X-Institution-Id"
	HeaderHallID        = "X-Hall-Id"
)

type sessionKey struct{}

// WithSession кладёт сессию в контекст запроса.
func WithSession(ctx context.Context, sess domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// ContextSessions читает сессию, положенную middleware в контекст.
type ContextSessions struct{}

var _ domain.SessionProvider = ContextSessions{}

// Session возвращает сессию запроса; без неё пользователь не авторизован.
func (ContextSessions) Session(ctx context.Context) domain.Session {
	sess, _ := ctx.Value(sessionKey{}).(domain.Session)
	return sess
}

// HeaderSession доверяет заголовкам шлюза авторизации. Запрос без X-User-Id
// проходит дальше как анонимный.
func HeaderSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess := domain.Session{
			Authenticated: true,
			User: domain.Buyer{
				ID:            userID,
				PhoneNumber:   strings.TrimSpace(r.Header.Get(HeaderUserPhone)),
				InstitutionID: strings.TrimSpace(r.Header.Get(HeaderInstitutionID)),
				HallID:        strings.TrimSpace(r.Header.Get(HeaderHallID)),
			},
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// requireSession отвечает 401 со ссылкой на вход, если сессии нет.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := h.sessions.Session(r.Context())
		if _, err := sess.RequireBuyer(); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

func sessionFrom(r *http.Request) domain.Session {
	return ContextSessions{}.Session(r.Context())
}
