package trackerclient

import (
	"net/url"
	"strconv"

	"github.com/ghosthamlet/boost-torrent/core"
)

func urlScheme(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", core.Wrap(core.TrackerURLParse, err)
	}
	return u.Scheme, nil
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
