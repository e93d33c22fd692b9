package model

// EvaluationContext carries identification and targeting attributes for
// an evaluation call. The zero value has an empty userId and is not
// marked anonymous; use NewAnonymousContext for an anonymous context
// with a synthesized userId.
type EvaluationContext struct {
	UserID            string                 `json:"userId"`
	Anonymous         bool                   `json:"anonymous"`
	Email             string                 `json:"email,omitempty"`
	Name              string                 `json:"name,omitempty"`
	Country           string                 `json:"country,omitempty"`
	DeviceType        string                 `json:"deviceType,omitempty"`
	OS                string                 `json:"os,omitempty"`
	Browser           string                 `json:"browser,omitempty"`
	Custom            map[string]interface{} `json:"custom,omitempty"`
	PrivateAttributes []string               `json:"privateAttributes,omitempty"`
}

// NewAnonymousContext builds a context with a synthesized userId, using
// the given id-generator function (normally uuid.NewString).
func NewAnonymousContext(genID func() string) EvaluationContext {
	return EvaluationContext{
		UserID:    genID(),
		Anonymous: true,
	}
}

// Clone returns a defensive copy; maps and slices are copied one level
// deep, which is sufficient since custom attribute values are treated
// as opaque by the rest of the SDK.
func (c EvaluationContext) Clone() EvaluationContext {
	clone := c
	if c.Custom != nil {
		clone.Custom = make(map[string]interface{}, len(c.Custom))
		for k, v := range c.Custom {
			clone.Custom[k] = v
		}
	}
	if c.PrivateAttributes != nil {
		clone.PrivateAttributes = append([]string(nil), c.PrivateAttributes...)
	}
	return clone
}

// stripPrivate returns a copy of m with the fields named in private removed.
func stripPrivate(m map[string]interface{}, private []string) map[string]interface{} {
	if len(private) == 0 || m == nil {
		return m
	}
	skip := make(map[string]struct{}, len(private))
	for _, p := range private {
		skip[p] = struct{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if _, hidden := skip[k]; hidden {
			continue
		}
		out[k] = v
	}
	return out
}

// Sanitized returns a version of the context suitable for transmission
// or snapshotting: fields named in PrivateAttributes are stripped from
// Custom, and if a well-known field name appears in PrivateAttributes
// it is cleared too.
func (c EvaluationContext) Sanitized() EvaluationContext {
	out := c.Clone()
	out.Custom = stripPrivate(out.Custom, out.PrivateAttributes)
	for _, p := range out.PrivateAttributes {
		switch p {
		case "email":
			out.Email = ""
		case "name":
			out.Name = ""
		case "country":
			out.Country = ""
		case "deviceType":
			out.DeviceType = ""
		case "os":
			out.OS = ""
		case "browser":
			out.Browser = ""
		}
	}
	return out
}
