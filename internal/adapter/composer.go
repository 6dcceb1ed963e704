package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/hpn/hpn-g-adapter/internal/curl"
	"github.com/hpn/hpn-g-adapter/internal/jsonpath"
)

// ConcreteRequest is a request ready to be sent.
type ConcreteRequest struct {
	Method  string
	URL     string
	Headers curl.Headers
	Body    []byte
}

// Compose fills the compiled template with primaryInput and extraFields.
//
// In body mode primaryInput is written at the request path and extra fields
// are merged into the top-level object; keys already present in the template
// win. In query mode primaryInput replaces the named query parameter and
// extra fields become query parameters unless already present.
//
// The compiled template is never modified.
func Compose(c *Compiled, primaryInput string, extraFields map[string]any) (*ConcreteRequest, error) {
	req := &ConcreteRequest{
		Method:  c.Request.Method,
		URL:     c.Request.URL,
		Headers: c.Request.Headers.Clone(),
	}

	extras, err := normalizeExtras(extraFields)
	if err != nil {
		return nil, err
	}

	var body any
	hasBody := c.Request.HasBody
	if hasBody {
		body = jsonpath.DeepCopy(c.Request.Body)
	}

	if c.QueryParam != "" {
		req.URL, err = composeQuery(c.Request.URL, c.QueryParam, primaryInput, extras)
		if err != nil {
			return nil, err
		}
	} else {
		body, err = c.BodyPath.Set(body, primaryInput)
		if err != nil {
			return nil, pathError(DirectionRequest, c.BodyPath.String(), "cannot place primary input", err)
		}
		hasBody = true
		if m, ok := body.(map[string]any); ok {
			mergeExtras(m, extras)
		}
	}

	if hasBody {
		req.Body, err = encodeBody(body)
		if err != nil {
			return nil, &Error{Kind: KindCurlParse, Msg: "cannot encode request body", Err: err}
		}
		if !req.Headers.Has("Content-Type") {
			req.Headers.Set("Content-Type", "application/json")
		}
	}
	return req, nil
}

func composeQuery(rawURL, param, primaryInput string, extras map[string]any) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &Error{Kind: KindCurlParse, Msg: "template URL does not parse", Err: WithoutURL(err)}
	}

	// Pairs already in the template are kept byte for byte and in order.
	target := url.QueryEscape(param) + "=" + url.QueryEscape(primaryInput)
	var pairs []string
	present := map[string]bool{param: true}
	placed := false
	if u.RawQuery != "" {
		for _, pair := range strings.Split(u.RawQuery, "&") {
			key, _, _ := strings.Cut(pair, "=")
			if k, err := url.QueryUnescape(key); err == nil {
				key = k
			}
			if key == param {
				if !placed {
					pairs = append(pairs, target)
					placed = true
				}
				continue
			}
			present[key] = true
			pairs = append(pairs, pair)
		}
	}
	if !placed {
		pairs = append(pairs, target)
	}

	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if present[k] {
			continue
		}
		v, ok := queryValue(extras[k])
		if !ok {
			continue
		}
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	u.RawQuery = strings.Join(pairs, "&")
	return u.String(), nil
}

// queryValue renders a scalar for a query string. Objects and lists have no
// query form and are skipped.
func queryValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// mergeExtras adds src into dst. Existing keys of dst win; when both sides
// hold objects they are merged recursively under the same rule.
func mergeExtras(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			continue
		}
		cur, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		curMap, ok1 := cur.(map[string]any)
		srcMap, ok2 := v.(map[string]any)
		if ok1 && ok2 {
			mergeExtras(curMap, srcMap)
		}
	}
}

// normalizeExtras round-trips extra fields through JSON so they have the
// same shapes as a decoded template body.
func normalizeExtras(extra map[string]any) (map[string]any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return nil, pathError(DirectionRequest, "", "extra fields are not JSON-encodable", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, pathError(DirectionRequest, "", "extra fields are not JSON-encodable", err)
	}
	return out, nil
}

func encodeBody(body any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeReply decodes a JSON reply, keeping numbers as json.Number.
func decodeReply(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// textOf renders a resolved value as text. Strings are returned as is;
// other values use their JSON form.
func textOf(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		b, err := encodeBody(t)
		if err != nil {
			return "", fmt.Errorf("render value: %w", err)
		}
		return string(b), nil
	}
}
