package protocol

import "errors"

// ErrEmptyURL is returned when a session or navigation payload carries no URL.
var ErrEmptyURL = errors.New("protocol: empty url")

// SessionRequest asks the server to (re)create the connection's session
// and navigate it to URL.
type SessionRequest struct {
	URL string
}

// EncodeSessionRequest encodes a session request payload.
func EncodeSessionRequest(req *SessionRequest) []byte {
	return encodeURL(req.URL)
}

// DecodeSessionRequest decodes a session request payload.
func DecodeSessionRequest(data []byte) (*SessionRequest, error) {
	u, err := decodeURL(data)
	if err != nil {
		return nil, err
	}
	return &SessionRequest{URL: u}, nil
}

// EncodeNavigation encodes the payload of a navigation notice.
func EncodeNavigation(url string) []byte {
	return encodeURL(url)
}

// DecodeNavigation decodes the payload of a navigation notice.
func DecodeNavigation(data []byte) (string, error) {
	return decodeURL(data)
}

func encodeURL(u string) []byte {
	e := NewEncoder()
	e.WriteString(u)
	return e.Bytes()
}

func decodeURL(data []byte) (string, error) {
	u, err := NewDecoder(data).ReadString()
	if err != nil {
		return "", err
	}
	if u == "" {
		return "", ErrEmptyURL
	}
	return u, nil
}
