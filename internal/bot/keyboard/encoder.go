package keyboard

import (
	"errors"
	"fmt"
	"strings"
)

// Telegram rejects callback data longer than 64 bytes.
const (
	CallbackDataSeparator  = ":"
	CallbackDataLimitBytes = 64
)

// EncodeCallback joins the handler identifier and its payload into callback data.
func EncodeCallback(unique, data string) (string, error) {
	payload := unique
	if data != "" {
		payload = unique + CallbackDataSeparator + data
	}

	if len(payload) > CallbackDataLimitBytes {
		return "", fmt.Errorf("callback data exceeds %d byte limit: got %d", CallbackDataLimitBytes, len(payload))
	}

	return payload, nil
}

// DecodeCallback splits callback data produced by EncodeCallback.
func DecodeCallback(callbackData string) (unique, data string, err error) {
	callbackData = strings.TrimSpace(callbackData)
	if callbackData == "" {
		return "", "", errors.New("callback data is empty")
	}

	unique, data, _ = strings.Cut(callbackData, CallbackDataSeparator)
	return unique, data, nil
}
