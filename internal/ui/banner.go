package ui

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

const bannerText = `
 ██████╗ ███████╗███████╗██╗     ██╗███╗   ██╗███████╗██████╗  ██████╗  █████╗ ██████╗ ██████╗
██╔═══██╗██╔════╝██╔════╝██║     ██║████╗  ██║██╔════╝██╔══██╗██╔═══██╗██╔══██╗██╔══██╗██╔══██╗
██║   ██║█████╗  █████╗  ██║     ██║██╔██╗ ██║█████╗  ██████╔╝██║   ██║███████║██████╔╝██║  ██║
██║   ██║██╔══╝  ██╔══╝  ██║     ██║██║╚██╗██║██╔══╝  ██╔══██╗██║   ██║██╔══██║██╔══██╗██║  ██║
╚██████╔╝██║     ██║     ███████╗██║██║ ╚████║███████╗██████╔╝╚██████╔╝██║  ██║██║  ██║██████╔╝
 ╚═════╝ ╚═╝     ╚═╝     ╚══════╝╚═╝╚═╝  ╚═══╝╚══════╝╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝
 @fr4nk3nst1ner
`

// ColorizeText fades text between two random colors
func ColorizeText(text string) string {
	random := rand.New(rand.NewSource(time.Now().UnixNano()))

	startColor := pterm.NewRGB(uint8(random.Intn(256)), uint8(random.Intn(256)), uint8(random.Intn(256)))
	endColor := pterm.NewRGB(uint8(random.Intn(256)), uint8(random.Intn(256)), uint8(random.Intn(256)))

	chars := strings.Split(text, "")
	half := len(chars) / 2
	if half == 0 {
		half = 1
	}

	var sb strings.Builder
	for i, c := range chars {
		sb.WriteString(startColor.Fade(0, float32(len(chars)), float32(i%half), endColor).Sprint(c))
	}
	return sb.String()
}

// PrintBanner displays the application banner unless silenced
func PrintBanner(silence bool) {
	if !silence {
		fmt.Println(ColorizeText(bannerText))
	}
}

// ColorizeStatus colors an HTTP status the way the tables show it
func ColorizeStatus(status int) string {
	switch {
	case status == 0:
		return pterm.Red("error")
	case status == 200:
		return pterm.Green(fmt.Sprint(status))
	case status < 400:
		return pterm.Yellow(fmt.Sprint(status))
	default:
		return pterm.Red(fmt.Sprint(status))
	}
}
