package codec

// dictionary maps common tokens to sub-5-byte sigils ("d:" plus a Base62
// index). Checked before any other smart-string branch. The table is
// process-wide and immutable after init; never append at runtime, only in
// new releases (appending keeps old sigils stable, reordering does not).
var dictionary = []string{
	// statuses
	"active", "inactive", "pending", "completed", "failed", "cancelled",
	"processing", "approved", "rejected", "draft", "published", "archived",
	"deleted", "expired", "paid", "unpaid", "refunded", "shipped",
	"delivered", "returned", "open", "closed", "new", "done", "error",
	"success", "warning", "info", "debug", "enabled", "disabled", "running",
	"stopped", "paused", "queued", "scheduled", "retrying", "skipped",
	"unknown", "locked", "unlocked", "verified", "unverified", "blocked",

	// HTTP verbs and protocol tokens
	"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS",
	"http://", "https://", "http://www.", "https://www.", "ftp://",
	"localhost", "127.0.0.1",

	// content types
	"application/json", "application/xml", "application/octet-stream",
	"application/x-www-form-urlencoded", "text/plain", "text/html",
	"text/csv", "image/png", "image/jpeg", "image/gif", "audio/mpeg",
	"video/mp4", "multipart/form-data",

	// booleans and common literals
	"true", "false", "null", "none", "empty", "default", "auto", "manual",
	"yes", "no", "on", "off", "all", "any",

	// common field values
	"admin", "user", "guest", "system", "anonymous", "root", "public",
	"private", "internal", "external", "production", "staging",
	"development", "test", "utc", "en", "en-US", "usd", "eur", "brl",
}

const dictPrefix = "d:"

var (
	dictEncode map[string]string
	dictDecode map[string]string
)

func init() {
	dictEncode = make(map[string]string, len(dictionary))
	dictDecode = make(map[string]string, len(dictionary))
	for i, tok := range dictionary {
		sigil := dictPrefix + EncodeBase62(uint64(i))
		dictEncode[tok] = sigil
		dictDecode[sigil] = tok
	}
}
