package client

// AuthError is returned when the server rejects the API key
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}

// ServerError covers transport failures and non-auth error statuses
type ServerError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
