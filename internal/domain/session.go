package domain

// Buyer — данные пользователя из сессии внешнего сервиса авторизации.
type Buyer struct {
	ID            string
	PhoneNumber   string
	InstitutionID string
	HallID        string
}

// Session — состояние авторизации текущего запроса.
type Session struct {
	Authenticated bool
	User          Buyer
}

// RequireBuyer возвращает пользователя или ErrUnauthenticated.
func (s Session) RequireBuyer() (Buyer, error) {
	if !s.Authenticated || s.User.ID == "" {
		return Buyer{}, ErrUnauthenticated
	}
	return s.User, nil
}
