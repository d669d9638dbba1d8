package redirect

import "html/template"

// Launcher and status pages. Kept inline; they are small and ship with the
// binary.

var androidPage = template.Must(template.New("android").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Opening Kashee...</title>
</head>
<body>
<p>Opening the Kashee app...</p>
<a id="open" href="{{.IntentURL}}">Tap here if nothing happens</a>
<script>
  window.location.href = {{.IntentURL}};
  setTimeout(function () {
    window.location.href = {{.Fallback}};
  }, 2500);
</script>
</body>
</html>`))

var iosPage = template.Must(template.New("ios").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Opening Kashee...</title>
</head>
<body>
<p>Opening the Kashee app...</p>
<a id="open" href="{{.DeepLink}}">Tap here if nothing happens</a>
<script>
  window.location.href = {{.DeepLink}};
  setTimeout(function () {
    window.location.href = {{.AppStoreURL}};
  }, 2500);
</script>
</body>
</html>`))

var notFoundPage = template.Must(template.New("notfound").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Link not found</title></head>
<body>
<h1>Link not found</h1>
<p>This link does not exist or is no longer valid.</p>
<a href="{{.HomeURL}}">Go to Kashee</a>
</body>
</html>`))

var expiredPage = template.Must(template.New("expired").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Link expired</title></head>
<body>
<h1>This link has expired</h1>
<p>Ask for a fresh link or open the app directly.</p>
<a href="{{.HomeURL}}">Go to Kashee</a>
</body>
</html>`))

var revokedPage = template.Must(template.New("revoked").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Link revoked</title></head>
<body>
<h1>This link was revoked</h1>
<p>The sender withdrew this link.</p>
<a href="{{.HomeURL}}">Go to Kashee</a>
</body>
</html>`))

var consumedPage = template.Must(template.New("consumed").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Link already used</title></head>
<body>
<h1>This link was already used</h1>
<p>The link allowed a limited number of opens and has reached its limit.</p>
<a href="{{.HomeURL}}">Go to Kashee</a>
</body>
</html>`))
