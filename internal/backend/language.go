// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_backend

import "unicode"

// Vietnamese letters outside plain Latin that do not occur in the other
// Latin-script languages we expect on the trunk.
var vietnameseMarkers = map[rune]bool{
	'ă': true, 'â': true, 'đ': true, 'ê': true, 'ô': true, 'ơ': true, 'ư': true,
	'Ă': true, 'Â': true, 'Đ': true, 'Ê': true, 'Ô': true, 'Ơ': true, 'Ư': true,
	'ạ': true, 'ả': true, 'ấ': true, 'ầ': true, 'ẩ': true, 'ẫ': true, 'ậ': true,
	'ắ': true, 'ằ': true, 'ẳ': true, 'ẵ': true, 'ặ': true, 'ẹ': true, 'ẻ': true,
	'ẽ': true, 'ế': true, 'ề': true, 'ể': true, 'ễ': true, 'ệ': true, 'ỉ': true,
	'ị': true, 'ọ': true, 'ỏ': true, 'ố': true, 'ồ': true, 'ổ': true, 'ỗ': true,
	'ộ': true, 'ớ': true, 'ờ': true, 'ở': true, 'ỡ': true, 'ợ': true, 'ụ': true,
	'ủ': true, 'ứ': true, 'ừ': true, 'ử': true, 'ữ': true, 'ự': true, 'ỳ': true,
	'ỵ': true, 'ỷ': true, 'ỹ': true,
}

// DetectLanguage guesses the dominant language of a transcript from its
// script. It returns a BCP-47 code suitable as a transcription hint, or ""
// when nothing distinctive is found.
func DetectLanguage(text string) string {
	for _, r := range text {
		switch {
		case vietnameseMarkers[r]:
			return "vi"
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			return "ja"
		case unicode.Is(unicode.Hangul, r):
			return "ko"
		case unicode.Is(unicode.Han, r):
			return "zh"
		case unicode.Is(unicode.Thai, r):
			return "th"
		}
	}
	return ""
}
