package domain

import "time"

// ContentTypePDF es el único tipo que el visor puede renderizar en el navegador.
const ContentTypePDF = "application/pdf"

type Document struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	S3Key       string    `json:"s3Key"`
	ContentType string    `json:"contentType"`
	UploadDate  time.Time `json:"uploadDate"`
	OwnerID     string    `json:"ownerId"` // ID del trabajador que subió el archivo
}

// Ref devuelve la referencia inmutable que guarda un trámite.
func (d Document) Ref() DocumentRef {
	return DocumentRef{ID: d.ID, FileName: d.FileName, ContentType: d.ContentType}
}

// DocumentRef es la referencia al documento de un trámite.
type DocumentRef struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// Viewable indica si el documento se lee en el visor paginado; el resto
// se considera leído al descargarse.
func (r DocumentRef) Viewable() bool {
	return r.ContentType == ContentTypePDF
}
