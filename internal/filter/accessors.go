package filter

import "strings"

// Accessor resolves one field's value off a request. Only the function
// matching Type is ever called by the compiler; the others are nil.
type Accessor struct {
	Type   ValueType
	String func(r *Request) *string
	Number func(r *Request) *float64
	Bool   func(r *Request) *bool
}

func str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func num(n int64) *float64 {
	f := float64(n)
	return &f
}

// staticAccessors is the fixed table of statically-declared field keys
// (§4.1). header:<name> and cookie:<name> are resolved dynamically by
// resolveAccessor below, not listed here.
var staticAccessors = map[string]Accessor{
	"request.method": {Type: TypeString, String: func(r *Request) *string { return str(r.Method) }},

	"url.pathname": {Type: TypeString, String: func(r *Request) *string { return str(r.ParsedURL().Path) }},
	"url.protocol": {Type: TypeString, String: func(r *Request) *string { return str(r.ParsedURL().Scheme) }},
	"url.hostname": {Type: TypeString, String: func(r *Request) *string { return str(r.ParsedURL().Hostname()) }},
	"url.search":   {Type: TypeString, String: func(r *Request) *string { return str(r.ParsedURL().RawQuery) }},

	"cf.asn":          {Type: TypeNumber, Number: func(r *Request) *float64 { return num(int64(r.CF.ASN)) }},
	"cf.colo":         {Type: TypeString, String: func(r *Request) *string { return str(r.CF.Colo) }},
	"cf.country":      {Type: TypeString, String: func(r *Request) *string { return str(r.CF.Country) }},
	"cf.region":       {Type: TypeString, String: func(r *Request) *string { return str(r.CF.Region) }},
	"cf.regionCode":   {Type: TypeString, String: func(r *Request) *string { return str(r.CF.RegionCode) }},
	"cf.city":         {Type: TypeString, String: func(r *Request) *string { return str(r.CF.City) }},
	"cf.postalCode":   {Type: TypeString, String: func(r *Request) *string { return str(r.CF.PostalCode) }},
	"cf.continent":    {Type: TypeString, String: func(r *Request) *string { return str(r.CF.Continent) }},
	"cf.latitude":     {Type: TypeString, String: func(r *Request) *string { return str(r.CF.Latitude) }},
	"cf.longitude":    {Type: TypeString, String: func(r *Request) *string { return str(r.CF.Longitude) }},
	"cf.timezone":     {Type: TypeString, String: func(r *Request) *string { return str(r.CF.Timezone) }},
	"cf.httpProtocol": {Type: TypeString, String: func(r *Request) *string { return str(r.CF.HTTPProtocol) }},
	"cf.tlsCipher":    {Type: TypeString, String: func(r *Request) *string { return str(r.CF.TLSCipher) }},
	"cf.tlsVersion":   {Type: TypeString, String: func(r *Request) *string { return str(r.CF.TLSVersion) }},
	"cf.ja3":          {Type: TypeString, String: func(r *Request) *string { return str(r.CF.JA3Hash) }},

	"cf.clientTcpRtt": {Type: TypeNumber, Number: func(r *Request) *float64 { return num(r.CF.ClientTCPRTT) }},
	"cf.threatScore":  {Type: TypeNumber, Number: func(r *Request) *float64 { return num(int64(r.CF.ThreatScore)) }},

	"cf.botManagement.score": {Type: TypeNumber, Number: func(r *Request) *float64 {
		if r.CF.BotManagement == nil {
			return nil
		}
		return num(int64(r.CF.BotManagement.Score))
	}},
	"cf.botManagement.verifiedBot": {Type: TypeBoolean, Bool: func(r *Request) *bool {
		if r.CF.BotManagement == nil {
			return nil
		}
		b := r.CF.BotManagement.VerifiedBot
		return &b
	}},
	"cf.botManagement.ja3Hash": {Type: TypeString, String: func(r *Request) *string {
		if r.CF.BotManagement == nil {
			return nil
		}
		return str(r.CF.BotManagement.JA3Hash)
	}},
	"cf.botManagement.corporateProxy": {Type: TypeBoolean, Bool: func(r *Request) *bool {
		if r.CF.BotManagement == nil {
			return nil
		}
		b := r.CF.BotManagement.CorporateProxy
		return &b
	}},

	"cf.tlsClientAuth.certPresented": {Type: TypeBoolean, Bool: func(r *Request) *bool {
		if r.CF.TLSClientAuth == nil {
			return nil
		}
		b := r.CF.TLSClientAuth.CertPresented
		return &b
	}},
	"cf.tlsClientAuth.certVerified": {Type: TypeString, String: func(r *Request) *string {
		if r.CF.TLSClientAuth == nil {
			return nil
		}
		return str(r.CF.TLSClientAuth.CertVerified)
	}},
}

// resolveAccessor resolves a field key, handling the static table as well
// as the dynamic header:<name> / cookie:<name> prefixes, which are always
// string-typed (§4.1).
func resolveAccessor(key string) (Accessor, bool) {
	if a, ok := staticAccessors[key]; ok {
		return a, true
	}
	if name, ok := cutPrefix(key, "header:"); ok {
		return Accessor{Type: TypeString, String: func(r *Request) *string {
			return str(r.Header.Get(name))
		}}, true
	}
	if name, ok := cutPrefix(key, "cookie:"); ok {
		return Accessor{Type: TypeString, String: func(r *Request) *string {
			v, found := r.Cookies()[name]
			if !found {
				return nil
			}
			return str(v)
		}}, true
	}
	return Accessor{}, false
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
