package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

type checkFunc func(ctx context.Context, p *HTTPProber) Result

var checkers = map[string]checkFunc{
	"bilibili_mainland": checkBilibili("bilibili_mainland", bilibiliMainlandURL),
	"bilibili_hk_mc_tw": checkBilibili("bilibili_hk_mc_tw", bilibiliHKURL),
	"chatgpt":           checkChatGPT,
	"gemini":            checkGemini,
	"youtube_premium":   checkYouTubePremium,
	"bahamut_anime":     checkBahamut,
	"netflix":           checkNetflix,
	"prime_video":       checkPrimeVideo,
}

var displayNames = map[string]string{
	"bilibili_mainland": "Bilibili Mainland",
	"bilibili_hk_mc_tw": "Bilibili HK/MC/TW",
	"chatgpt":           "ChatGPT",
	"gemini":            "Gemini",
	"youtube_premium":   "YouTube Premium",
	"bahamut_anime":     "Bahamut Anime",
	"netflix":           "Netflix",
	"prime_video":       "Prime Video",
}

const (
	bilibiliMainlandURL = "https://api.bilibili.com/pgc/player/web/playurl?avid=82846771&qn=0&type=&otype=json&ep_id=307247&fourk=1&fnver=0&fnval=16&module=bangumi"
	bilibiliHKURL       = "https://api.bilibili.com/pgc/player/web/playurl?avid=18281381&cid=29892777&qn=0&type=&otype=json&ep_id=183799&fourk=1&fnver=0&fnval=16&module=bangumi"

	chatGPTTraceURL = "https://chat.openai.com/cdn-cgi/trace"
	chatGPTIOSURL   = "https://ios.chat.openai.com/"
	chatGPTWebURL   = "https://api.openai.com/compliance/cookie_requirements"

	geminiURL      = "https://gemini.google.com"
	youtubeURL     = "https://www.youtube.com/premium"
	primeVideoURL  = "https://www.primevideo.com"
	bahamutBaseURL = "https://ani.gamer.com.tw"

	netflixFastURL   = "https://api.fast.com/netflix/speedtest/v2?https=true&token=YXNkZmFzZGxmbnNkYWZoYXNkZmhrYWxm&urlCount=5"
	netflixTitleURL  = "https://www.netflix.com/title/"
	netflixOriginal  = "81280792"
	netflixLicensed  = "70143836"
	netflixRegionPin = "80018499"

	bahamutUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

var (
	geminiRegionRe  = regexp.MustCompile(`,2,1,200,"([A-Z]{3})"`)
	youtubeRegionRe = regexp.MustCompile(`id="country-code"[^>]*>([^<]+)<`)
	bahamutGeoRe    = regexp.MustCompile(`data-geo="([^"]+)"`)
	primeRegionRe   = regexp.MustCompile(`"currentTerritory":"([^"]+)"`)
)

func result(service string, outcome Outcome, detail, region string) Result {
	return Result{Service: displayNames[service], Outcome: outcome, Detail: detail, Region: region}
}

func failed(service string, err error) Result {
	detail := "failed"
	if err != nil {
		detail = "failed: " + truncate(err.Error(), 80)
	}
	return Result{Service: displayNames[service], Outcome: Indeterminate, Detail: detail}
}

func checkBilibili(service, rawURL string) checkFunc {
	return func(ctx context.Context, p *HTTPProber) Result {
		resp, err := p.getOK(ctx, rawURL, getOptions{})
		if err != nil {
			return failed(service, err)
		}
		var body struct {
			Code *int `json:"code"`
		}
		if err := json.Unmarshal(resp.body, &body); err != nil || body.Code == nil {
			return failed(service, err)
		}
		switch *body.Code {
		case 0:
			return result(service, Unlocked, "yes", "")
		case -10403:
			return result(service, Blocked, "region restricted", "")
		default:
			return failed(service, nil)
		}
	}
}

// checkChatGPT is unlocked when either the iOS or the web endpoint is.
func checkChatGPT(ctx context.Context, p *HTTPProber) Result {
	const service = "chatgpt"

	region := ""
	if resp, err := p.get(ctx, chatGPTTraceURL, getOptions{}); err == nil && resp.status == 200 {
		region = traceField(resp.body, "loc")
	}

	ios := "failed"
	if resp, err := p.getOK(ctx, chatGPTIOSURL, getOptions{}); err == nil {
		body := strings.ToLower(string(resp.body))
		switch {
		case strings.Contains(body, "you may be connected to a disallowed isp"):
			ios = "disallowed isp"
		case strings.Contains(body, "request is not allowed. please try again later."):
			ios = "yes"
		case strings.Contains(body, "sorry, you have been blocked"):
			ios = "blocked"
		}
	}

	web := "failed"
	if resp, err := p.getOK(ctx, chatGPTWebURL, getOptions{}); err == nil {
		if strings.Contains(strings.ToLower(string(resp.body)), "unsupported_country") {
			web = "unsupported country"
		} else {
			web = "yes"
		}
	}

	detail := "ios: " + ios + ", web: " + web
	switch {
	case ios == "yes" || web == "yes":
		return result(service, Unlocked, detail, region)
	case ios == "failed" && web == "failed":
		return result(service, Indeterminate, detail, region)
	default:
		return result(service, Blocked, detail, region)
	}
}

func traceField(body []byte, key string) string {
	for _, line := range strings.Split(string(body), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok && k == key {
			return v
		}
	}
	return ""
}

func checkGemini(ctx context.Context, p *HTTPProber) Result {
	const service = "gemini"
	resp, err := p.getOK(ctx, geminiURL, getOptions{})
	if err != nil {
		return failed(service, err)
	}
	if len(resp.body) == 0 {
		return failed(service, nil)
	}

	region := ""
	if m := geminiRegionRe.FindSubmatch(resp.body); m != nil {
		region = string(m[1])
	}
	if bytes.Contains(resp.body, []byte("45631641,null,true")) {
		return result(service, Unlocked, "yes", region)
	}
	return result(service, Blocked, "no", region)
}

func checkYouTubePremium(ctx context.Context, p *HTTPProber) Result {
	const service = "youtube_premium"
	resp, err := p.getOK(ctx, youtubeURL, getOptions{})
	if err != nil {
		return failed(service, err)
	}
	if len(resp.body) == 0 {
		return failed(service, nil)
	}

	lower := strings.ToLower(string(resp.body))
	switch {
	case strings.Contains(lower, "youtube premium is not available in your country"):
		return result(service, Blocked, "no", "")
	case strings.Contains(lower, "ad-free"):
		region := ""
		if m := youtubeRegionRe.FindSubmatch(resp.body); m != nil {
			region = strings.TrimSpace(string(m[1]))
		}
		return result(service, Unlocked, "yes", region)
	default:
		return failed(service, nil)
	}
}

func checkBahamut(ctx context.Context, p *HTTPProber) Result {
	const service = "bahamut_anime"
	opts := getOptions{headers: map[string]string{"User-Agent": bahamutUserAgent}}

	resp, err := p.getOK(ctx, bahamutBaseURL+"/ajax/getdeviceid.php", opts)
	if err != nil {
		return failed(service, err)
	}
	var device struct {
		DeviceID string `json:"deviceid"`
	}
	if err := json.Unmarshal(resp.body, &device); err != nil || device.DeviceID == "" {
		return failed(service, err)
	}

	resp, err = p.getOK(ctx, bahamutBaseURL+"/ajax/token.php?adID=89422&sn=37783&device="+device.DeviceID, opts)
	if err != nil {
		return failed(service, err)
	}
	if !bytes.Contains(resp.body, []byte("animeSn")) {
		return result(service, Blocked, "no", "")
	}

	resp, err = p.getOK(ctx, bahamutBaseURL+"/", opts)
	if err != nil {
		return failed(service, err)
	}
	region := ""
	if m := bahamutGeoRe.FindSubmatch(resp.body); m != nil {
		region = string(m[1])
	}
	return result(service, Unlocked, "yes", region)
}

// checkNetflix asks the fast.com CDN API first, then falls back to
// comparing an original title with a licensed one.
func checkNetflix(ctx context.Context, p *HTTPProber) Result {
	const service = "netflix"

	if resp, err := p.get(ctx, netflixFastURL, getOptions{}); err == nil {
		if resp.status == 403 {
			return result(service, Blocked, "ip banned", "")
		}
		if resp.status >= 200 && resp.status <= 299 {
			var data struct {
				Targets []struct {
					Location struct {
						Country string `json:"country"`
					} `json:"location"`
				} `json:"targets"`
			}
			if json.Unmarshal(resp.body, &data) == nil && len(data.Targets) > 0 &&
				data.Targets[0].Location.Country != "" {
				return result(service, Unlocked, "yes", data.Targets[0].Location.Country)
			}
		}
	}

	original, err := p.get(ctx, netflixTitleURL+netflixOriginal, getOptions{follow: true})
	if err != nil {
		return failed(service, err)
	}
	licensed, err := p.get(ctx, netflixTitleURL+netflixLicensed, getOptions{follow: true})
	if err != nil {
		return failed(service, err)
	}

	reachable := func(code int) bool { return code == 200 || code == 301 || code == 302 }
	switch {
	case original.status == 404 && licensed.status == 404:
		return result(service, Blocked, "originals only", "")
	case original.status == 403 || licensed.status == 403:
		return result(service, Blocked, "no", "")
	case reachable(original.status) || reachable(licensed.status):
		region := "US"
		if resp, err := p.get(ctx, netflixTitleURL+netflixRegionPin, getOptions{}); err == nil {
			if code := netflixRegion(resp.header.Get("Location")); code != "" {
				region = code
			}
		}
		return result(service, Unlocked, "yes", region)
	default:
		return failed(service, nil)
	}
}

// netflixRegion extracts "jp" from "https://www.netflix.com/jp-en/title/1".
func netflixRegion(location string) string {
	parts := strings.Split(location, "/")
	if len(parts) < 4 || parts[3] == "" {
		return ""
	}
	code, _, _ := strings.Cut(parts[3], "-")
	if code == "title" {
		return ""
	}
	return strings.ToUpper(code)
}

func checkPrimeVideo(ctx context.Context, p *HTTPProber) Result {
	const service = "prime_video"
	resp, err := p.getOK(ctx, primeVideoURL, getOptions{})
	if err != nil {
		return failed(service, err)
	}
	if len(resp.body) == 0 {
		return failed(service, nil)
	}
	if bytes.Contains(resp.body, []byte("isServiceRestricted")) {
		return result(service, Blocked, "service not available", "")
	}
	if m := primeRegionRe.FindSubmatch(resp.body); m != nil {
		return result(service, Unlocked, "yes", string(m[1]))
	}
	return failed(service, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
