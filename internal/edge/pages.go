package edge

import (
	"fmt"
	"html"
	"net/http"

	"github.com/koltyakov/arca-edge/internal/access"
	"github.com/koltyakov/arca-edge/internal/domain"
)

const pageStyle = `
    * { box-sizing: border-box; }
    body {
      margin: 0;
      min-height: 100vh;
      display: grid;
      place-items: center;
      padding: 24px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
      color: #1f2933;
      background: linear-gradient(145deg, #f4f1ea, #fbfaf7 55%, #e9eef2);
    }
    .card {
      width: min(100%, 420px);
      padding: 32px;
      border-radius: 20px;
      background: #fff;
      border: 1px solid rgba(31, 41, 51, 0.1);
      box-shadow: 0 24px 60px rgba(31, 41, 51, 0.12);
    }
    h1 { margin: 0 0 8px; font-size: 1.6rem; }
    p { margin: 0 0 20px; color: #52606d; line-height: 1.5; }
    label { display: block; margin-bottom: 6px; font-size: 0.9rem; font-weight: 600; }
    input {
      width: 100%;
      padding: 12px 14px;
      margin-bottom: 16px;
      border-radius: 12px;
      border: 1px solid #cbd2d9;
      font-size: 1rem;
    }
    button {
      width: 100%;
      padding: 12px 14px;
      border: 0;
      border-radius: 12px;
      background: #2f6f8f;
      color: #fff;
      font-size: 1rem;
      cursor: pointer;
    }
    .error { color: #9c2f2f; font-weight: 600; }
    code { font-family: "SFMono-Regular", Consolas, monospace; }`

// writePage renders a minimal HTML document with body as the card content.
// body must already be escaped.
func writePage(w http.ResponseWriter, r *http.Request, status int, title, body string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = fmt.Fprintf(w, `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
  <style>%s
  </style>
</head>
<body>
  <main class="card">
%s
  </main>
</body>
</html>
`, html.EscapeString(title), pageStyle, body)
}

// writeNotFoundPage names the requested username, filtered to the
// username charset and escaped.
func writeNotFoundPage(w http.ResponseWriter, r *http.Request, username string) {
	name := html.EscapeString(domain.SanitizeUsername(username))
	writePage(w, r, http.StatusNotFound, "Assistant Not Found", fmt.Sprintf(
		`    <h1>Assistant Not Found</h1>
    <p>No AI assistant found for username: <code>%s</code></p>`, name))
}

func writeUnavailablePage(w http.ResponseWriter, r *http.Request) {
	writePage(w, r, http.StatusServiceUnavailable, "Service Unavailable",
		`    <h1>Service Unavailable</h1>
    <p>The assistant is not reachable right now. Please try again in a moment.</p>`)
}

type loginPageState struct {
	Next      string
	ErrorText string
}

func writeLoginPage(w http.ResponseWriter, r *http.Request, state loginPageState, status int) {
	errorBanner := ""
	if state.ErrorText != "" {
		errorBanner = `    <p class="error" role="alert">` + html.EscapeString(state.ErrorText) + "</p>\n"
	}
	writePage(w, r, status, "Sign in", fmt.Sprintf(`    <h1>AI Workspace</h1>
    <p>Sign in to access your assistant</p>
%s    <form method="post" action="%slogin">
      <input type="hidden" name="%s" value="%s">
      <label for="password">Password</label>
      <input id="password" type="password" name="%s" autocomplete="current-password" required autofocus>
      <button type="submit">Sign in</button>
    </form>`,
		errorBanner,
		entryPrefix,
		access.FormNextField, html.EscapeString(access.RedirectTarget(state.Next, "/")),
		access.FormPasswordField))
}

type verifyPageState struct {
	Challenge string
	Next      string
	ErrorText string
}

func writeVerifyPage(w http.ResponseWriter, r *http.Request, state verifyPageState, status int) {
	errorBanner := ""
	if state.ErrorText != "" {
		errorBanner = `    <p class="error" role="alert">` + html.EscapeString(state.ErrorText) + "</p>\n"
	}
	writePage(w, r, status, "Verify sign-in", fmt.Sprintf(`    <h1>Check your inbox</h1>
    <p>Enter the code we just sent you.</p>
%s    <form method="post" action="%sverify">
      <input type="hidden" name="%s" value="%s">
      <input type="hidden" name="%s" value="%s">
      <label for="code">Code</label>
      <input id="code" name="%s" inputmode="numeric" autocomplete="one-time-code" required autofocus>
      <button type="submit">Verify</button>
    </form>`,
		errorBanner,
		entryPrefix,
		access.FormChallengeField, html.EscapeString(state.Challenge),
		access.FormNextField, html.EscapeString(access.RedirectTarget(state.Next, "/")),
		access.FormCodeField))
}
