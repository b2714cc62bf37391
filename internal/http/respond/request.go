package respond

import (
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/auth"
	"github.com/MrJamesThe3rd/reloop/internal/imagestore"
)

// Caller returns the authenticated identity, writing 401 when there is none.
func Caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return auth.Identity{}, false
	}

	return id, true
}

// ParamUUID parses the named URL parameter, writing 400 when it is malformed.
func ParamUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}

	return id, true
}

// OpenImages opens uploaded files for streaming to the image store.
func OpenImages(headers []*multipart.FileHeader) ([]imagestore.Image, func(), error) {
	var files []multipart.File

	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	images := make([]imagestore.Image, 0, len(headers))

	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, nil, err
		}

		files = append(files, f)
		images = append(images, imagestore.Image{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}

	return images, closeAll, nil
}
