package enum

type ConnectionStatus string

const (
	ConnectionActive    ConnectionStatus = "active"
	ConnectionNotActive ConnectionStatus = "not_active"
	ConnectionFailed    ConnectionStatus = "failed"
)

func (c ConnectionStatus) String() string {
	return string(c)
}
