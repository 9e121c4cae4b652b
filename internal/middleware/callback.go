package middleware

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const callbackParamsKey = "callbackParams"

// CallbackParams collects the bank callback parameters from the query string,
// a form body or a JSON body into a flat string map. Later sources win.
func CallbackParams() fiber.Handler {
	return func(c *fiber.Ctx) error {
		params := make(map[string]string)
		for k, v := range c.Queries() {
			params[k] = v
		}

		if c.Method() == fiber.MethodPost && len(c.Body()) > 0 {
			contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
			switch {
			case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
				var body map[string]interface{}
				dec := json.NewDecoder(bytes.NewReader(c.Body()))
				dec.UseNumber()
				if err := dec.Decode(&body); err != nil {
					return fiber.NewError(fiber.StatusBadRequest, "invalid callback body")
				}
				for k, v := range body {
					params[k] = stringify(v)
				}
			case strings.HasPrefix(contentType, fiber.MIMEApplicationForm):
				c.Request().PostArgs().VisitAll(func(k, v []byte) {
					params[string(k)] = string(v)
				})
			}
		}

		c.Locals(callbackParamsKey, params)
		return c.Next()
	}
}

// GetCallbackParams returns the parameters collected by CallbackParams.
func GetCallbackParams(c *fiber.Ctx) map[string]string {
	params, _ := c.Locals(callbackParamsKey).(map[string]string)
	if params == nil {
		return map[string]string{}
	}
	return params
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}
