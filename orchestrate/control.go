package orchestrate

// Control tool results are ordinary result maps carrying a well-known marker
// key. Built-in tools produce them through the constructors below; the
// orchestrator inspects every tool result for the markers and short-circuits
// the turn when one is present.

const (
	keyReset       = "resetConversation"
	keyModelChange = "modelChanged"
	keyHangup      = "hangupCall"
	keyMessage     = "message"
	keyModel       = "model"
	keyTemperature = "temperature"
	keyMaxTokens   = "maxTokens"
	keyReason      = "reason"
)

// NewResetResult builds a reset-conversation tool result.
func NewResetResult(message string) map[string]any {
	return map[string]any{keyReset: true, keyMessage: message}
}

// NewModelChangeResult builds a model-change tool result. temperature and
// maxTokens may be nil to keep the current values.
func NewModelChangeResult(model, message string, temperature *float64, maxTokens *int) map[string]any {
	result := map[string]any{keyModelChange: true, keyModel: model, keyMessage: message}
	if temperature != nil {
		result[keyTemperature] = *temperature
	}
	if maxTokens != nil {
		result[keyMaxTokens] = *maxTokens
	}
	return result
}

// NewHangupResult builds a hangup tool result.
func NewHangupResult(message, reason string) map[string]any {
	return map[string]any{keyHangup: true, keyMessage: message, keyReason: reason}
}

func asControlMap(data any) (map[string]any, bool) {
	m, ok := data.(map[string]any)
	return m, ok
}

func isReset(data any) (message string, ok bool) {
	m, isMap := asControlMap(data)
	if !isMap || m[keyReset] != true {
		return "", false
	}
	message, _ = m[keyMessage].(string)
	return message, true
}

func isModelChange(data any) (model, message string, temperature *float64, maxTokens *int, ok bool) {
	m, isMap := asControlMap(data)
	if !isMap || m[keyModelChange] != true {
		return "", "", nil, nil, false
	}
	model, _ = m[keyModel].(string)
	message, _ = m[keyMessage].(string)
	if t, isFloat := m[keyTemperature].(float64); isFloat {
		temperature = &t
	}
	switch v := m[keyMaxTokens].(type) {
	case int:
		maxTokens = &v
	case float64:
		n := int(v)
		maxTokens = &n
	}
	return model, message, temperature, maxTokens, true
}

func isHangup(data any) (message, reason string, ok bool) {
	m, isMap := asControlMap(data)
	if !isMap || m[keyHangup] != true {
		return "", "", false
	}
	message, _ = m[keyMessage].(string)
	reason, _ = m[keyReason].(string)
	return message, reason, true
}
