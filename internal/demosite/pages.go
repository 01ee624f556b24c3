package demosite

// Version of a page. Version 1 is the healthy baseline; later versions
// introduce regressions the analyzers should catch.
type Version struct {
	HTML    string
	Headers map[string]string
	Cookies []Cookie
}

// Cookie set when a version is served.
type Cookie struct {
	Name     string
	Value    string
	HttpOnly bool
	Secure   bool
}

// Page is a route with its versions keyed from 1.
type Page struct {
	Path        string
	Description string
	Versions    map[int]Version
}

var hardened = map[string]string{
	"Content-Security-Policy":   "default-src 'self'",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"X-Frame-Options":           "DENY",
	"X-Content-Type-Options":    "nosniff",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
}

// Pages returns the demo catalogue.
func Pages() []Page {
	return []Page{homePage(), pricingPage(), privacyPage()}
}

func homePage() Page {
	return Page{
		Path:        "/",
		Description: "Landing page; v2 drops its meta tags and headers, v3 adds trackers",
		Versions: map[int]Version{
			1: {
				Headers: hardened,
				HTML: `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Acme Widgets - Home</title>
  <meta name="description" content="Acme builds reliable widgets for small teams, with fair pricing and friendly support.">
  <link rel="canonical" href="/">
  <meta property="og:title" content="Acme Widgets">
  <meta property="og:description" content="Reliable widgets for small teams.">
</head>
<body>
  <h1>Reliable widgets for small teams</h1>
  <nav><a href="/pricing">Pricing</a> | <a href="/privacy">Privacy policy</a></nav>
  <img src="/static/hero.png" alt="A widget on a desk">
  <div id="CybotCookiebotDialog">We only set cookies after you agree.</div>
</body>
</html>`,
			},
			2: {
				HTML: `<!DOCTYPE html>
<html>
<head>
  <title>Home</title>
</head>
<body>
  <h1>Reliable widgets</h1>
  <h1>For small teams</h1>
  <nav><a href="/pricing">Pricing</a> | <a href="/gone">Old blog</a></nav>
  <img src="/static/hero.png">
</body>
</html>`,
			},
			3: {
				Cookies: []Cookie{{Name: "_ga", Value: "GA1.1.42"}, {Name: "session", Value: "abc"}},
				HTML: `<!DOCTYPE html>
<html>
<head>
  <title>Home</title>
  <script src="https://www.googletagmanager.com/gtag/js?id=G-DEMO"></script>
  <script src="https://connect.facebook.net/en_US/fbevents.js"></script>
</head>
<body>
  <h1>Reliable widgets</h1>
  <h1>For small teams</h1>
  <nav><a href="/pricing">Pricing</a> | <a href="/gone">Old blog</a></nav>
  <img src="/static/hero.png">
</body>
</html>`,
			},
		},
	}
}

func pricingPage() Page {
	return Page{
		Path:        "/pricing",
		Description: "Pricing table; v2 loses its description",
		Versions: map[int]Version{
			1: {
				Headers: hardened,
				HTML: `<!DOCTYPE html>
<html lang="en">
<head>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Acme Widgets - Pricing</title>
  <meta name="description" content="Simple monthly plans for every team size. Cancel anytime, no setup fees.">
  <link rel="canonical" href="/pricing">
</head>
<body>
  <h1>Pricing</h1>
  <table><tr><td>Starter</td><td>9 EUR</td></tr><tr><td>Pro</td><td>29 EUR</td></tr></table>
  <a href="/">Home</a>
</body>
</html>`,
			},
			2: {
				Headers: hardened,
				HTML: `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Pricing</title>
</head>
<body>
  <h2>Pricing</h2>
  <a href="/">Home</a>
</body>
</html>`,
			},
		},
	}
}

func privacyPage() Page {
	return Page{
		Path:        "/privacy",
		Description: "Privacy policy",
		Versions: map[int]Version{
			1: {
				Headers: hardened,
				HTML: `<!DOCTYPE html>
<html lang="en">
<head>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Acme Widgets - Privacy policy</title>
  <meta name="description" content="How Acme Widgets collects, stores and protects the personal data of its customers.">
  <link rel="canonical" href="/privacy">
</head>
<body>
  <h1>Privacy policy</h1>
  <p>We keep personal data for as long as your account exists.</p>
</body>
</html>`,
			},
		},
	}
}
