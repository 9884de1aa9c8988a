package driver

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// storageState is the on-disk snapshot layout: cookies plus per-origin
// localStorage. Field names match the common storage_state JSON so snapshots
// written by other automation tools load unchanged.
type storageState struct {
	Cookies []stateCookie `json:"cookies"`
	Origins []stateOrigin `json:"origins"`
}

type stateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type stateOrigin struct {
	Origin       string      `json:"origin"`
	LocalStorage []stateItem `json:"localStorage"`
}

type stateItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func decodeState(data []byte) (*storageState, error) {
	var st storageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("driver: decode state: %w", err)
	}
	return &st, nil
}

func encodeState(st storageState) ([]byte, error) {
	if st.Cookies == nil {
		st.Cookies = []stateCookie{}
	}
	if st.Origins == nil {
		st.Origins = []stateOrigin{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("driver: encode state: %w", err)
	}
	return data, nil
}

func cookieFromProto(c *proto.NetworkCookie) stateCookie {
	expires := float64(c.Expires)
	if c.Session {
		expires = -1
	}
	return stateCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  expires,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: string(c.SameSite),
	}
}

func (st *storageState) cookieParams() []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}
	return params
}

// storageScript builds a new-document script that seeds localStorage for the
// origin being loaded. Empty when the snapshot carries no storage.
func (st *storageState) storageScript() string {
	byOrigin := map[string][][2]string{}
	for _, o := range st.Origins {
		for _, it := range o.LocalStorage {
			byOrigin[o.Origin] = append(byOrigin[o.Origin], [2]string{it.Name, it.Value})
		}
	}
	if len(byOrigin) == 0 {
		return ""
	}
	data, err := json.Marshal(byOrigin)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(`(() => {
  const items = (%s)[location.origin];
  if (!items) return;
  try { for (const [k, v] of items) { if (localStorage.getItem(k) === null) localStorage.setItem(k, v); } } catch (e) {}
})();`, data)
}

func readLocalStorage(p *rod.Page) (string, []stateItem, error) {
	res, err := p.Eval(`() => JSON.stringify({
  origin: location.origin,
  items: Object.entries(localStorage).map(([name, value]) => ({name, value})),
})`)
	if err != nil {
		return "", nil, err
	}
	var out struct {
		Origin string      `json:"origin"`
		Items  []stateItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &out); err != nil {
		return "", nil, err
	}
	return out.Origin, out.Items, nil
}
