package templates

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookswap/internal/web"
)

// Routes mounts the template endpoints under /templates.
func Routes(r chi.Router) {
	r.Get("/", handleList)
	r.Post("/{key}/render", handleRender)
}

func handleList(w http.ResponseWriter, r *http.Request) {
	out := make(map[Key][]string, len(bodies))
	for _, k := range Keys() {
		out[k] = Placeholders(k)
	}
	web.Respond(w, http.StatusOK, "templates", out)
}

func handleRender(w http.ResponseWriter, r *http.Request) {
	var data Data
	if err := web.Decode(r, &data); err != nil {
		web.Fail(w, r, err)
		return
	}

	content, err := Render(Key(chi.URLParam(r, "key")), data)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "content", content)
}
