package model

type Role string

const (
	RoleUser  = Role("user")
	RoleModel = Role("model")
)

// ParseRole maps wire role names onto Role. OpenAI style "assistant" is a
// model turn.
func ParseRole(s string) Role {
	switch s {
	case "model", "assistant":
		return RoleModel
	default:
		return RoleUser
	}
}

func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}
