package notification

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supported = []language.Tag{language.English, language.Indonesian}

var titles = map[Type][2]string{
	TypePostingCreated:          {"Your item %s has been posted", "Barang %s berhasil diunggah"},
	TypePostingStatusChanged:    {"The status of %s has changed", "Status %s telah berubah"},
	TypeApplicationReceived:     {"New request for %s", "Permintaan baru untuk %s"},
	TypeApplicationAccepted:     {"Your request for %s was accepted", "Permintaan Anda untuk %s diterima"},
	TypeApplicationDeclined:     {"Your request for %s was declined", "Permintaan Anda untuk %s ditolak"},
	TypeApplicationAutoDeclined: {"%s is no longer available", "%s sudah tidak tersedia"},
	TypeBorrowLent:              {"%s has been handed over", "%s telah diserahkan"},
	TypeBorrowReturned:          {"%s has been returned", "%s telah dikembalikan"},
	TypeBorrowExtended:          {"The borrow period for %s was extended", "Masa pinjam %s diperpanjang"},
	TypeBorrowOverdue:           {"%s is overdue", "%s melewati batas waktu pengembalian"},
	TypeExchangeCompleted:       {"The exchange for %s is complete", "Pertukaran %s telah selesai"},
	TypePaymentPaid:             {"Payment for repairing %s received", "Pembayaran perbaikan %s diterima"},
	TypePaymentFailed:           {"Payment for repairing %s failed", "Pembayaran perbaikan %s gagal"},
}

// Localizer renders notification titles in one language.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// NewLocalizer picks the closest supported language for lang, falling back
// to English.
func NewLocalizer(lang string) *Localizer {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	for typ, msgs := range titles {
		for i, tag := range supported {
			// Both tags are fixed and every message is a plain string.
			_ = b.SetString(tag, string(typ), msgs[i])
		}
	}

	tag := language.English

	if desired, _, err := language.ParseAcceptLanguage(lang); err == nil && len(desired) > 0 {
		_, idx, _ := language.NewMatcher(supported).Match(desired...)
		tag = supported[idx]
	}

	return &Localizer{tag: tag, printer: message.NewPrinter(tag, message.Catalog(b))}
}

func (l *Localizer) Language() language.Tag {
	return l.tag
}

func (l *Localizer) Title(t Type, item string) string {
	if l == nil {
		return item
	}

	if _, ok := titles[t]; !ok {
		return item
	}

	return l.printer.Sprintf(string(t), item)
}
